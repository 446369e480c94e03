package ratelimit

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

const (
	PolicyLeads      = "leads"
	PolicyPosts      = "posts"
	PolicyNewsletter = "newsletter"
)

// Policy is the ceiling applied to one guarded operation.
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// Key scopes a client identifier to the policy, e.g. "leads:203.0.113.7".
func (policy Policy) Key(clientID string) string {
	return policy.Name + ":" + clientID
}

type Policies map[string]Policy

func DefaultPolicies() Policies {
	return Policies{
		PolicyLeads:      {Name: PolicyLeads, MaxRequests: 5, Window: time.Hour},
		PolicyPosts:      {Name: PolicyPosts, MaxRequests: 60, Window: time.Minute},
		PolicyNewsletter: {Name: PolicyNewsletter, MaxRequests: 3, Window: time.Hour},
	}
}

func (policies Policies) Lookup(name string) (Policy, bool) {
	policy, ok := policies[name]
	return policy, ok
}

// ParsePolicies applies overrides written as NAME:MAX_REQUESTS:WINDOW_SECONDS,
// comma separated, on top of base. base is not modified.
func ParsePolicies(raw string, base Policies) (Policies, error) {
	policies := make(Policies, len(base))
	maps.Copy(policies, base)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return policies, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("policy override must follow NAME:MAX_REQUESTS:WINDOW_SECONDS: %s", item)
		}

		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if name == "" {
			return nil, fmt.Errorf("policy override has an empty name: %s", item)
		}
		maxRequests, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || maxRequests < 1 {
			return nil, fmt.Errorf("invalid max requests for policy %s: %q", name, parts[1])
		}
		windowSeconds, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || windowSeconds < 1 {
			return nil, fmt.Errorf("invalid window seconds for policy %s: %q", name, parts[2])
		}

		policies[name] = Policy{
			Name:        name,
			MaxRequests: maxRequests,
			Window:      time.Duration(windowSeconds) * time.Second,
		}
	}

	return policies, nil
}

package domain

import (
	"net/url"
	"strings"
)

// PushSubscription is a browser Web Push endpoint registered by a studio admin
// to receive new-lead alerts.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256DH   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

func (subscription PushSubscription) Normalize() PushSubscription {
	subscription.Endpoint = strings.TrimSpace(subscription.Endpoint)
	subscription.P256DH = strings.TrimSpace(subscription.P256DH)
	subscription.Auth = strings.TrimSpace(subscription.Auth)
	return subscription
}

// Validate requires an absolute https endpoint and both browser keys.
func (subscription PushSubscription) Validate() error {
	fields := map[string]string{}

	endpoint, err := url.Parse(subscription.Endpoint)
	switch {
	case subscription.Endpoint == "":
		fields["endpoint"] = "is required"
	case err != nil || endpoint.Scheme != "https" || endpoint.Host == "":
		fields["endpoint"] = "must be an https URL"
	}
	if subscription.P256DH == "" {
		fields["p256dh"] = "is required"
	}
	if subscription.Auth == "" {
		fields["auth"] = "is required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gordonpn/studio-site/internal/config"
	"github.com/gordonpn/studio-site/internal/domain"
	"github.com/gordonpn/studio-site/internal/metrics"
	"github.com/gordonpn/studio-site/internal/notifications"
	"github.com/gordonpn/studio-site/internal/ratelimit"
	"github.com/gordonpn/studio-site/internal/store"
)

// LeadNotifier is satisfied by *notifications.Dispatcher.
type LeadNotifier interface {
	Enqueue(notification notifications.Notification) bool
}

type Service struct {
	config     config.Config
	repository store.Repository
	limiter    *ratelimit.Limiter
	notifier   LeadNotifier
	metrics    *metrics.Metrics
}

// New wires the service. A nil limiter disables rate limiting and a nil
// notifier disables lead notifications.
func New(config config.Config, repository store.Repository, limiter *ratelimit.Limiter, notifier LeadNotifier, m *metrics.Metrics) *Service {
	return &Service{
		config:     config,
		repository: repository,
		limiter:    limiter,
		notifier:   notifier,
		metrics:    m,
	}
}

func (service *Service) RateLimitEnabled() bool {
	return service.limiter != nil
}

// AllowRequest checks the named policy for a client. Requests are always
// allowed when limiting is disabled or the policy is unknown.
func (service *Service) AllowRequest(ctx context.Context, policyName, clientID string) ratelimit.Result {
	if service.limiter == nil {
		return ratelimit.Result{Allowed: true}
	}
	policy, ok := service.config.RateLimit.Policies.Lookup(policyName)
	if !ok {
		return ratelimit.Result{Allowed: true}
	}

	result := service.limiter.CheckAndRecord(ctx, policy.Key(clientID), policy.MaxRequests, policy.Window)
	service.metrics.RecordRateLimitDecision(policy.Name, result.Allowed)
	return result
}

// SubmitLead stores a validated lead and queues notifications for it.
// A filled honeypot reports spam=true and nothing is stored.
func (service *Service) SubmitLead(ctx context.Context, lead domain.Lead, honeypot string) (domain.Lead, bool, error) {
	lead = lead.Normalize()
	if err := lead.Validate(); err != nil {
		return domain.Lead{}, false, err
	}

	if strings.TrimSpace(honeypot) != "" {
		service.metrics.RecordLeadSpamDropped()
		return lead, true, nil
	}

	id, err := service.repository.InsertLead(ctx, lead)
	if err != nil {
		service.metrics.RecordError()
		return domain.Lead{}, false, err
	}
	lead.ID = id
	service.metrics.RecordLeadReceived(lead.Locale)

	if service.notifier != nil {
		service.notifier.Enqueue(notifications.LeadNotification(lead))
	}
	return lead, false, nil
}

// SubscribeNewsletter reports whether the address is new.
func (service *Service) SubscribeNewsletter(ctx context.Context, subscriber domain.NewsletterSubscriber) (bool, error) {
	subscriber = subscriber.Normalize()
	if err := subscriber.Validate(); err != nil {
		return false, err
	}

	created, err := service.repository.UpsertNewsletterSubscriber(ctx, subscriber)
	if err != nil {
		service.metrics.RecordError()
		return false, err
	}
	service.metrics.RecordNewsletterSubscription(created)
	return created, nil
}

// RegisterPushSubscription stores an admin browser for new-lead alerts and
// reports whether the endpoint is new.
func (service *Service) RegisterPushSubscription(ctx context.Context, subscription domain.PushSubscription) (bool, error) {
	subscription = subscription.Normalize()
	if err := subscription.Validate(); err != nil {
		return false, err
	}

	created, err := service.repository.UpsertPushSubscription(ctx, subscription)
	if err != nil {
		service.metrics.RecordError()
		return false, err
	}
	return created, nil
}

func (service *Service) RemovePushSubscription(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &domain.ValidationError{Fields: map[string]string{"endpoint": "is required"}}
	}
	if err := service.repository.DeletePushSubscription(ctx, endpoint); err != nil {
		service.metrics.RecordError()
		return err
	}
	return nil
}

func (service *Service) ListPosts(ctx context.Context, locale string, limit int) ([]domain.Post, error) {
	return service.repository.ListPublishedPosts(ctx, domain.NormalizeLocale(locale), domain.ClampPostLimit(limit))
}

func (service *Service) GetPost(ctx context.Context, locale, slug string) (domain.Post, error) {
	return service.repository.GetPublishedPost(ctx, domain.NormalizeLocale(locale), strings.TrimSpace(slug))
}

// RateLimitSize is zero when limiting is disabled.
func (service *Service) RateLimitSize(ctx context.Context) int {
	if service.limiter == nil {
		return 0
	}
	return service.limiter.Size(ctx)
}

func (service *Service) ResetRateLimit(ctx context.Context, key string) {
	if service.limiter == nil {
		return
	}
	service.limiter.Reset(ctx, key)
}

func (service *Service) ValidateAdminSecret(secret string) bool {
	return secureCompare(service.config.AdminSecret, secret)
}

func secureCompare(expected, actual string) bool {
	if len(expected) == 0 || len(actual) == 0 {
		return false
	}
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gordonpn/studio-site/internal/domain"
)

// SubscriptionStore lists the admin devices that receive lead pushes.
type SubscriptionStore interface {
	ListAdminPushSubscriptions(ctx context.Context) ([]domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	TTLSeconds      int
	HTTPClient      webpush.HTTPClient
}

type WebPushNotifier struct {
	config        WebPushConfig
	subscriptions SubscriptionStore
}

type webPushPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	LeadID int64  `json:"leadId,omitempty"`
	Tag    string `json:"tag"`
}

func NewWebPushNotifier(config WebPushConfig, subscriptions SubscriptionStore) *WebPushNotifier {
	if config.TTLSeconds < 1 {
		config.TTLSeconds = 60 * 60 * 24
	}
	return &WebPushNotifier{config: config, subscriptions: subscriptions}
}

func (notifier *WebPushNotifier) Name() string {
	return "webpush"
}

// Notify pushes to every admin subscription. Gone subscriptions are deleted.
// An error is returned only when no subscription could be reached.
func (notifier *WebPushNotifier) Notify(ctx context.Context, n Notification) error {
	if notifier.config.VAPIDPublicKey == "" || notifier.config.VAPIDPrivateKey == "" || notifier.config.VAPIDSubject == "" {
		return errors.New("missing vapid config")
	}

	subscriptions, err := notifier.subscriptions.ListAdminPushSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subscriptions) == 0 {
		return nil
	}

	payload, err := json.Marshal(webPushPayload{Title: n.Subject, Body: n.Body, LeadID: n.LeadID, Tag: n.Event})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	options := &webpush.Options{
		HTTPClient:      notifier.config.HTTPClient,
		Subscriber:      notifier.config.VAPIDSubject,
		VAPIDPublicKey:  notifier.config.VAPIDPublicKey,
		VAPIDPrivateKey: notifier.config.VAPIDPrivateKey,
		TTL:             notifier.config.TTLSeconds,
		Urgency:         webpush.UrgencyHigh,
		Topic:           "studio-leads",
	}

	var failures []error
	for _, subscription := range subscriptions {
		if err := notifier.send(ctx, subscription, payload, options); err != nil {
			log.Printf("push send failed endpoint=%s err=%v", redactEndpoint(subscription.Endpoint), err)
			failures = append(failures, err)
		}
	}

	if len(failures) == len(subscriptions) {
		return errors.Join(failures...)
	}
	return nil
}

func (notifier *WebPushNotifier) send(ctx context.Context, item domain.PushSubscription, payload []byte, options *webpush.Options) error {
	subscription := &webpush.Subscription{
		Endpoint: item.Endpoint,
		Keys: webpush.Keys{
			P256dh: item.P256DH,
			Auth:   item.Auth,
		},
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, subscription, options)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()

	switch {
	case response.StatusCode >= 200 && response.StatusCode <= 299:
		return nil
	case response.StatusCode == http.StatusGone || response.StatusCode == http.StatusNotFound:
		if err := notifier.subscriptions.DeletePushSubscription(ctx, item.Endpoint); err != nil {
			log.Printf("failed deleting gone subscription endpoint=%s err=%v", redactEndpoint(item.Endpoint), err)
		}
		return nil
	default:
		return fmt.Errorf("push status %d", response.StatusCode)
	}
}

func redactEndpoint(endpoint string) string {
	if endpoint == "" {
		return "unknown"
	}
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		parts := strings.Split(endpoint, "/")
		if len(parts) >= 3 {
			return parts[0] + "//" + parts[2]
		}
	}
	return "unknown"
}

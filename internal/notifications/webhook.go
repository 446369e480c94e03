package notifications

import (
	"context"
	"net/http"
	"strings"
)

// WebhookNotifier posts the lead event as JSON to an arbitrary endpoint, with
// an optional bearer token.
type WebhookNotifier struct {
	client *http.Client
	url    string
	token  string
}

type webhookPayload struct {
	Event   string `json:"event"`
	LeadID  int64  `json:"lead_id,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Locale  string `json:"locale,omitempty"`
}

func NewWebhookNotifier(client *http.Client, url, token string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: strings.TrimSpace(url), token: strings.TrimSpace(token)}
}

func (w *WebhookNotifier) Name() string {
	return "webhook"
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	return postJSON(ctx, w.client, "webhook", w.url, w.token, webhookPayload{
		Event:   n.Event,
		LeadID:  n.LeadID,
		Subject: n.Subject,
		Body:    n.Body,
		Locale:  n.Locale,
	})
}

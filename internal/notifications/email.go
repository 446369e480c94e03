package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/resend/resend-go/v2"
)

// EmailNotifier sends lead notifications through Resend.
type EmailNotifier struct {
	resend *resend.Client
	from   string
	to     []string
}

// NewEmailNotifier accepts a comma separated list of recipients.
func NewEmailNotifier(client *http.Client, apiKey, from, to string) *EmailNotifier {
	recipients := make([]string, 0)
	for _, address := range strings.Split(to, ",") {
		if address = strings.TrimSpace(address); address != "" {
			recipients = append(recipients, address)
		}
	}

	return &EmailNotifier{
		resend: resend.NewCustomClient(client, strings.TrimSpace(apiKey)),
		from:   strings.TrimSpace(from),
		to:     recipients,
	}
}

func (e *EmailNotifier) Name() string {
	return "email"
}

func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	if len(e.to) == 0 {
		return errors.New("email notifier has no recipients")
	}

	sent, err := e.resend.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from,
		To:      e.to,
		Subject: n.Subject,
		Text:    n.Body,
	})
	if err != nil {
		return fmt.Errorf("send resend email: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return errors.New("resend returned no email id")
	}
	return nil
}

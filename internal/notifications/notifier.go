package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/gordonpn/studio-site/internal/domain"
)

// Notification captures the destination-agnostic message payload.
type Notification struct {
	Event   string
	LeadID  int64
	Subject string
	Body    string
	Locale  string
}

// Notifier publishes notifications to a single destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

const EventLeadCreated = "lead.created"

// LeadNotification renders a stored lead for the studio team.
func LeadNotification(lead domain.Lead) Notification {
	subject := "New lead from " + lead.Name
	if lead.Company != "" {
		subject += " (" + lead.Company + ")"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Name: %s\n", lead.Name)
	fmt.Fprintf(&body, "Email: %s\n", lead.Email)
	if lead.Company != "" {
		fmt.Fprintf(&body, "Company: %s\n", lead.Company)
	}
	if lead.Budget != "" {
		fmt.Fprintf(&body, "Budget: %s\n", lead.Budget)
	}
	fmt.Fprintf(&body, "Locale: %s\n\n", lead.Locale)
	body.WriteString(lead.Message)

	return Notification{
		Event:   EventLeadCreated,
		LeadID:  lead.ID,
		Subject: subject,
		Body:    body.String(),
		Locale:  lead.Locale,
	}
}

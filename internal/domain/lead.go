package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

var budgets = map[string]struct{}{
	"small":      {},
	"medium":     {},
	"large":      {},
	"enterprise": {},
}

// Lead is a contact form submission from the marketing site.
type Lead struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Message   string    `json:"message"`
	Budget    string    `json:"budget,omitempty"`
	Locale    string    `json:"locale"`
	ClientIP  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (err *ValidationError) Error() string {
	parts := make([]string, 0, len(err.Fields))
	for field, reason := range err.Fields {
		parts = append(parts, field+": "+reason)
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Normalize trims every field and maps the locale and budget onto known values.
func (lead Lead) Normalize() Lead {
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Email = strings.ToLower(strings.TrimSpace(lead.Email))
	lead.Company = strings.TrimSpace(lead.Company)
	lead.Message = strings.TrimSpace(lead.Message)
	lead.Budget = strings.ToLower(strings.TrimSpace(lead.Budget))
	lead.Locale = NormalizeLocale(lead.Locale)
	return lead
}

// Validate expects a normalized lead.
func (lead Lead) Validate() error {
	fields := make(map[string]string)

	if n := utf8.RuneCountInString(lead.Name); n < 1 || n > 120 {
		fields["name"] = "must be between 1 and 120 characters"
	}
	if err := ValidateEmail(lead.Email); err != nil {
		fields["email"] = err.Error()
	}
	if utf8.RuneCountInString(lead.Company) > 120 {
		fields["company"] = "must be at most 120 characters"
	}
	if n := utf8.RuneCountInString(lead.Message); n < 10 || n > 5000 {
		fields["message"] = "must be between 10 and 5000 characters"
	}
	if lead.Budget != "" {
		if _, ok := budgets[lead.Budget]; !ok {
			fields["budget"] = "must be one of small, medium, large, enterprise"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("is required")
	}
	address, err := mail.ParseAddress(email)
	if err != nil || address.Address != email {
		return errors.New("is not a valid address")
	}
	return nil
}

// NewsletterSubscriber is an address signed up for the studio newsletter.
type NewsletterSubscriber struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
}

func (subscriber NewsletterSubscriber) Normalize() NewsletterSubscriber {
	subscriber.Email = strings.ToLower(strings.TrimSpace(subscriber.Email))
	subscriber.Locale = NormalizeLocale(subscriber.Locale)
	return subscriber
}

func (subscriber NewsletterSubscriber) Validate() error {
	if err := ValidateEmail(subscriber.Email); err != nil {
		return &ValidationError{Fields: map[string]string{"email": err.Error()}}
	}
	return nil
}

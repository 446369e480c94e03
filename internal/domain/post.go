package domain

import "time"

const (
	DefaultPostLimit = 12
	MaxPostLimit     = 50
)

// Post is a published blog article in one locale.
type Post struct {
	Slug        string    `json:"slug"`
	Locale      string    `json:"locale"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Body        string    `json:"body,omitempty"`
	CoverURL    string    `json:"cover_url,omitempty"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
}

// ClampPostLimit keeps list sizes inside 1..MaxPostLimit.
func ClampPostLimit(limit int) int {
	if limit < 1 {
		return DefaultPostLimit
	}
	if limit > MaxPostLimit {
		return MaxPostLimit
	}
	return limit
}

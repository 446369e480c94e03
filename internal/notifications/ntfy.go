package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const ntfyMaxAttempts = 3

type NtfyNotifier struct {
	client    *http.Client
	topicURL  string
	token     string
	baseDelay time.Duration
}

func NewNtfyNotifier(client *http.Client, topicURL, token string) *NtfyNotifier {
	return &NtfyNotifier{
		client:    client,
		topicURL:  strings.TrimSpace(topicURL),
		token:     strings.TrimSpace(token),
		baseDelay: time.Second,
	}
}

func (n *NtfyNotifier) Name() string {
	return "ntfy"
}

// Notify publishes to the topic, honouring Retry-After when ntfy throttles us.
func (n *NtfyNotifier) Notify(ctx context.Context, note Notification) error {
	log.Printf("publishing notification to ntfy lead_id=%d bytes=%d", note.LeadID, len(note.Body))

	for attempt := 1; attempt <= ntfyMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, bytes.NewBufferString(note.Body))
		if err != nil {
			return fmt.Errorf("build ntfy request: %w", err)
		}
		if n.token != "" {
			req.Header.Set("Authorization", "Bearer "+n.token)
		}
		req.Header.Set("Title", note.Subject)
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "incoming_envelope")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("post ntfy: %w", err)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt == ntfyMaxAttempts {
				return fmt.Errorf("ntfy rate limited after %d attempts: %s", ntfyMaxAttempts, string(body))
			}
			wait := retryAfterDelay(resp.Header.Get("Retry-After"), attempt, n.baseDelay)
			log.Printf("ntfy rate limited attempt=%d/%d wait=%v", attempt, ntfyMaxAttempts, wait)
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("ntfy status %d: %s", resp.StatusCode, string(body))
		}

		return nil
	}

	return fmt.Errorf("ntfy publish failed after %d attempts", ntfyMaxAttempts)
}

func retryAfterDelay(header string, attempt int, base time.Duration) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(header); err == nil {
			d := time.Until(t)
			if d > 0 {
				return d
			}
		}
	}

	if base <= 0 {
		return 0
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(base)))
	return backoff + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordonpn/studio-site/internal/domain"
	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLead() domain.Lead {
	return domain.Lead{
		ID:      42,
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Company: "Analytical Engines",
		Message: "We need a launch site for our new engine.",
		Budget:  "large",
		Locale:  "fr",
	}
}

func TestLeadNotification(t *testing.T) {
	note := LeadNotification(testLead())

	assert.Equal(t, EventLeadCreated, note.Event)
	assert.Equal(t, int64(42), note.LeadID)
	assert.Equal(t, "New lead from Ada Lovelace (Analytical Engines)", note.Subject)
	assert.Contains(t, note.Body, "Email: ada@example.com\n")
	assert.Contains(t, note.Body, "Budget: large\n")
	assert.True(t, strings.HasSuffix(note.Body, "launch site for our new engine."))

	bare := testLead()
	bare.Company = ""
	bare.Budget = ""
	note = LeadNotification(bare)
	assert.Equal(t, "New lead from Ada Lovelace", note.Subject)
	assert.NotContains(t, note.Body, "Budget:")
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var received webhookPayload
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.Client(), server.URL, " secret ")
	require.NoError(t, notifier.Notify(context.Background(), LeadNotification(testLead())))

	assert.Equal(t, "Bearer secret", authorization)
	assert.Equal(t, EventLeadCreated, received.Event)
	assert.Equal(t, int64(42), received.LeadID)
	assert.Equal(t, "fr", received.Locale)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.Client(), server.URL, "").Notify(context.Background(), Notification{Subject: "s"})
	require.ErrorContains(t, err, "webhook status 502")
}

func TestPostJSON_CapsErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 4096), http.StatusInternalServerError)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.Client(), server.URL).Notify(context.Background(), Notification{Subject: "s"})
	require.ErrorContains(t, err, "discord status 500")
	assert.Len(t, err.Error(), len("discord status 500: ")+maxErrorBody)
}

func TestDiscordNotifier_TruncatesContent(t *testing.T) {
	var received discordPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	note := Notification{Subject: "Big lead", Body: strings.Repeat("é", 3000)}
	require.NoError(t, NewDiscordNotifier(server.Client(), server.URL).Notify(context.Background(), note))

	assert.Len(t, []rune(received.Content), discordContentLimit)
	assert.True(t, strings.HasPrefix(received.Content, "**Big lead**\n"))
}

func newTestEmailNotifier(t *testing.T, server *httptest.Server, to string) *EmailNotifier {
	t.Helper()
	notifier := NewEmailNotifier(server.Client(), "re_key", "Studio <hello@studio.test>", to)
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	notifier.resend.BaseURL = baseURL
	return notifier
}

func TestEmailNotifier_Notify(t *testing.T) {
	var received resend.SendEmailRequest
	var authorization, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":"email_1"}`)
	}))
	defer server.Close()

	notifier := newTestEmailNotifier(t, server, "a@studio.test, b@studio.test,")

	require.NoError(t, notifier.Notify(context.Background(), LeadNotification(testLead())))
	assert.Equal(t, "/emails", path)
	assert.Equal(t, "Bearer re_key", authorization)
	assert.Equal(t, "Studio <hello@studio.test>", received.From)
	assert.Equal(t, []string{"a@studio.test", "b@studio.test"}, received.To)
	assert.Equal(t, "New lead from Ada Lovelace (Analytical Engines)", received.Subject)
	assert.Contains(t, received.Text, "Email: ada@example.com\n")
}

func TestEmailNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"statusCode":422,"name":"validation_error","message":"Invalid from field"}`)
	}))
	defer server.Close()

	err := newTestEmailNotifier(t, server, "a@studio.test").Notify(context.Background(), Notification{Subject: "s"})
	require.ErrorContains(t, err, "send resend email")
}

func TestEmailNotifier_RequiresRecipients(t *testing.T) {
	notifier := NewEmailNotifier(http.DefaultClient, "re_key", "from@studio.test", " ")
	require.Error(t, notifier.Notify(context.Background(), Notification{}))
}

func TestNtfyNotifier_RetriesWhenThrottled(t *testing.T) {
	var calls atomic.Int32
	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		title = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNtfyNotifier(server.Client(), server.URL, "")
	require.NoError(t, notifier.Notify(context.Background(), Notification{Subject: "New lead", Body: "hello"}))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "New lead", title)
}

func TestNtfyNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewNtfyNotifier(server.Client(), server.URL, "").Notify(context.Background(), Notification{Body: "x"})
	require.ErrorContains(t, err, "rate limited")
	assert.Equal(t, int32(ntfyMaxAttempts), calls.Load())
}

func TestRetryAfterDelay(t *testing.T) {
	assert.Equal(t, 0*time.Second, retryAfterDelay("0", 1, time.Second))
	assert.Equal(t, 7*time.Second, retryAfterDelay("7", 3, time.Second))

	fallback := retryAfterDelay("soon", 2, time.Second)
	assert.GreaterOrEqual(t, fallback, 2*time.Second)
	assert.Less(t, fallback, 3*time.Second)
}

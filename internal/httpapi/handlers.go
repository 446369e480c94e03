package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gordonpn/studio-site/internal/domain"
	"github.com/gordonpn/studio-site/internal/ratelimit"
	"github.com/gordonpn/studio-site/internal/service"
	"github.com/gordonpn/studio-site/internal/store"
)

const maxBodyBytes = 64 << 10

type Handlers struct {
	service *service.Service
}

type leadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Message string `json:"message"`
	Budget  string `json:"budget"`
	Locale  string `json:"locale"`
	// honeypot, hidden from humans
	Website string `json:"website"`
}

type pushKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// pushSubscriptionRequest accepts the browser's PushSubscription.toJSON()
// either as the body itself or wrapped in "subscription".
type pushSubscriptionRequest struct {
	Endpoint     string   `json:"endpoint"`
	Keys         pushKeys `json:"keys"`
	Subscription *struct {
		Endpoint string   `json:"endpoint"`
		Keys     pushKeys `json:"keys"`
	} `json:"subscription"`
}

type newsletterRequest struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
}

// NewRouter mounts the public API, the admin rate-limit endpoints and, when
// metricsHandler is not nil, /metrics.
func NewRouter(service *service.Service, metricsHandler http.Handler) http.Handler {
	handlers := &Handlers{service: service}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.healthz)
	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	router.Route("/api", func(r chi.Router) {
		r.With(handlers.rateLimited(ratelimit.PolicyLeads)).Post("/leads", handlers.submitLead)
		r.With(handlers.rateLimited(ratelimit.PolicyNewsletter)).Post("/newsletter", handlers.subscribeNewsletter)

		r.With(handlers.rateLimited(ratelimit.PolicyPosts)).Get("/posts", handlers.listPosts)
		r.With(handlers.rateLimited(ratelimit.PolicyPosts)).Get("/posts/{slug}", handlers.getPost)

		r.Route("/admin", func(r chi.Router) {
			r.Use(handlers.adminSecretAuth)
			r.Get("/ratelimit", handlers.rateLimitStats)
			r.Delete("/ratelimit/{key}", handlers.resetRateLimit)
			r.Post("/push-subscriptions", handlers.registerPushSubscription)
			r.Delete("/push-subscriptions", handlers.removePushSubscription)
		})
	})

	return router
}

func (handlers *Handlers) adminSecretAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		header := request.Header.Get("X-Admin-Secret")
		if !handlers.service.ValidateAdminSecret(header) {
			writeJSON(writer, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func (handlers *Handlers) healthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

func (handlers *Handlers) submitLead(writer http.ResponseWriter, request *http.Request) {
	var payload leadRequest
	if err := decodeJSON(writer, request, &payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}

	lead := domain.Lead{
		Name:     payload.Name,
		Email:    payload.Email,
		Company:  payload.Company,
		Message:  payload.Message,
		Budget:   payload.Budget,
		Locale:   payload.Locale,
		ClientIP: clientIdentifier(request),
	}

	stored, spam, err := handlers.service.SubmitLead(request.Context(), lead, payload.Website)
	if err != nil {
		writeServiceError(writer, "lead insert", err)
		return
	}
	if spam {
		log.Printf("lead dropped by honeypot client=%s", lead.ClientIP)
		writeJSON(writer, http.StatusCreated, map[string]string{"status": "received"})
		return
	}

	writeJSON(writer, http.StatusCreated, map[string]any{"status": "received", "id": stored.ID})
}

func (handlers *Handlers) subscribeNewsletter(writer http.ResponseWriter, request *http.Request) {
	var payload newsletterRequest
	if err := decodeJSON(writer, request, &payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}

	_, err := handlers.service.SubscribeNewsletter(request.Context(), domain.NewsletterSubscriber{Email: payload.Email, Locale: payload.Locale})
	if err != nil {
		writeServiceError(writer, "newsletter upsert", err)
		return
	}

	writeJSON(writer, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (handlers *Handlers) listPosts(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	locale := domain.NormalizeLocale(query.Get("locale"))

	limit, err := strconv.Atoi(strings.TrimSpace(query.Get("limit")))
	if err != nil {
		limit = domain.DefaultPostLimit
	}

	posts, err := handlers.service.ListPosts(request.Context(), locale, limit)
	if err != nil {
		writeServiceError(writer, "posts query", err)
		return
	}

	writeJSON(writer, http.StatusOK, map[string]any{"locale": locale, "posts": posts})
}

func (handlers *Handlers) getPost(writer http.ResponseWriter, request *http.Request) {
	post, err := handlers.service.GetPost(request.Context(), request.URL.Query().Get("locale"), chi.URLParam(request, "slug"))
	if err != nil {
		writeServiceError(writer, "post query", err)
		return
	}

	writeJSON(writer, http.StatusOK, post)
}

func (handlers *Handlers) rateLimitStats(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{
		"enabled":     handlers.service.RateLimitEnabled(),
		"trackedKeys": handlers.service.RateLimitSize(request.Context()),
	})
}

func (handlers *Handlers) resetRateLimit(writer http.ResponseWriter, request *http.Request) {
	key, err := pathParam(request, "key")
	if err != nil || strings.TrimSpace(key) == "" {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}

	handlers.service.ResetRateLimit(request.Context(), key)
	log.Printf("rate limit reset key=%s", key)
	writer.WriteHeader(http.StatusNoContent)
}

func (handlers *Handlers) registerPushSubscription(writer http.ResponseWriter, request *http.Request) {
	var payload pushSubscriptionRequest
	if err := decodeJSON(writer, request, &payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}

	subscription := domain.PushSubscription{Endpoint: payload.Endpoint, P256DH: payload.Keys.P256DH, Auth: payload.Keys.Auth}
	if payload.Subscription != nil {
		subscription = domain.PushSubscription{
			Endpoint: payload.Subscription.Endpoint,
			P256DH:   payload.Subscription.Keys.P256DH,
			Auth:     payload.Subscription.Keys.Auth,
		}
	}

	created, err := handlers.service.RegisterPushSubscription(request.Context(), subscription)
	if err != nil {
		writeServiceError(writer, "push subscription upsert", err)
		return
	}

	statusCode := http.StatusOK
	if created {
		statusCode = http.StatusCreated
	}
	writeJSON(writer, statusCode, map[string]string{"status": "active"})
}

func (handlers *Handlers) removePushSubscription(writer http.ResponseWriter, request *http.Request) {
	var payload pushSubscriptionRequest
	if err := decodeJSON(writer, request, &payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}

	endpoint := payload.Endpoint
	if endpoint == "" && payload.Subscription != nil {
		endpoint = payload.Subscription.Endpoint
	}

	if err := handlers.service.RemovePushSubscription(request.Context(), endpoint); err != nil {
		writeServiceError(writer, "push subscription delete", err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// pathParam unescapes a route parameter exactly once. chi matches on RawPath
// when the request carried one and on the already-decoded Path otherwise.
func pathParam(request *http.Request, name string) (string, error) {
	value := chi.URLParam(request, name)
	if request.URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}

func decodeJSON(writer http.ResponseWriter, request *http.Request, target any) error {
	request.Body = http.MaxBytesReader(writer, request.Body, maxBodyBytes)
	return json.NewDecoder(request.Body).Decode(target)
}

func writeServiceError(writer http.ResponseWriter, operation string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]any{"error": "invalid_payload", "fields": validationErr.Fields})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(writer, http.StatusNotFound, map[string]string{"error": "not_found"})
	default:
		log.Printf("%s failed: %v", operation, err)
		writeJSON(writer, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	unknownClient         = "unknown"
	tooManyRequestsText   = "Too many requests. Please try again later."
	fallbackRetryAfterSec = 60
)

type tooManyRequestsResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// rateLimited guards a route with the named policy. The service admits every
// request when limiting is switched off.
func (handlers *Handlers) rateLimited(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			result := handlers.service.AllowRequest(request.Context(), policy, clientIdentifier(request))
			if !result.Allowed {
				writeTooManyRequests(writer, result.RetryAfterSeconds)
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// clientIdentifier returns the first X-Forwarded-For hop, then X-Real-IP.
// Clients without either header share the "unknown" bucket.
func clientIdentifier(request *http.Request) string {
	forwardedFor, _, _ := strings.Cut(request.Header.Get("X-Forwarded-For"), ",")
	if forwardedFor = strings.TrimSpace(forwardedFor); forwardedFor != "" {
		return forwardedFor
	}

	realIP := strings.TrimSpace(request.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	return unknownClient
}

func writeTooManyRequests(writer http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = fallbackRetryAfterSec
	}
	writer.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeJSON(writer, http.StatusTooManyRequests, tooManyRequestsResponse{
		Error:      tooManyRequestsText,
		RetryAfter: retryAfterSeconds,
	})
}

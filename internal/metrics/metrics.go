package metrics

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "studio_api"

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	// Rate limiting
	RateLimitDecisionsTotal    *prometheus.CounterVec
	RateLimitTrackedKeys       prometheus.Gauge
	RateLimitSweepEvictedTotal prometheus.Counter
	RateLimitSweepDurationSecs prometheus.Histogram
	RateLimitStoreErrorsTotal  *prometheus.CounterVec

	// Leads and newsletter
	LeadsReceivedTotal           *prometheus.CounterVec
	LeadsSpamDroppedTotal        prometheus.Counter
	NewsletterSubscriptionsTotal *prometheus.CounterVec

	// Outbound notifications
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationErrorsTotal   *prometheus.CounterVec
	NotificationDurationSecs  *prometheus.HistogramVec
	NotificationsDroppedTotal prometheus.Counter

	// Error tracking
	ErrorsTotal prometheus.Counter

	registry *prometheus.Registry
	pusher   *push.Pusher
}

// NewMetrics creates a new Metrics instance. Push is disabled when
// pushgatewayURL or jobName is empty.
func NewMetrics(pushgatewayURL, jobName string) *Metrics {
	m := &Metrics{
		RateLimitDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by policy and outcome",
		}, []string{"policy", "outcome"}),
		RateLimitTrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_tracked_keys",
			Help:      "Number of keys tracked by the rate limiter after the last sweep",
		}),
		RateLimitSweepEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_sweep_evicted_total",
			Help:      "Total number of idle keys removed by the sweeper",
		}),
		RateLimitSweepDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_sweep_duration_seconds",
			Help:      "Duration of a sweep pass in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		RateLimitStoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_store_errors_total",
			Help:      "Window store errors by operation; requests fail open on update errors",
		}, []string{"operation"}),

		LeadsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_received_total",
			Help:      "Total number of accepted lead submissions",
		}, []string{"locale"}),
		LeadsSpamDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_spam_dropped_total",
			Help:      "Total number of lead submissions dropped by the honeypot",
		}),
		NewsletterSubscriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "newsletter_subscriptions_total",
			Help:      "Newsletter subscriptions by result (created or updated)",
		}, []string{"result"}),

		NotificationsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of delivered notifications by channel",
		}, []string{"channel"}),
		NotificationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "Total number of failed notification attempts by channel",
		}, []string{"channel"}),
		NotificationDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Duration of notification attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		}, []string{"channel"}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications not queued because the dispatcher was stopped",
		}),

		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.RateLimitDecisionsTotal,
		m.RateLimitTrackedKeys,
		m.RateLimitSweepEvictedTotal,
		m.RateLimitSweepDurationSecs,
		m.RateLimitStoreErrorsTotal,
		m.LeadsReceivedTotal,
		m.LeadsSpamDroppedTotal,
		m.NewsletterSubscriptionsTotal,
		m.NotificationsSentTotal,
		m.NotificationErrorsTotal,
		m.NotificationDurationSecs,
		m.NotificationsDroppedTotal,
		m.ErrorsTotal,
	)

	if pushgatewayURL != "" && jobName != "" {
		m.pusher = push.New(pushgatewayURL, jobName).
			Gatherer(m.registry)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRateLimitDecision records one allow/deny outcome for a policy
func (m *Metrics) RecordRateLimitDecision(policy string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.RateLimitDecisionsTotal.WithLabelValues(policy, outcome).Inc()
}

// RecordSweep records a sweep pass
func (m *Metrics) RecordSweep(evicted, tracked int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitSweepEvictedTotal.Add(float64(evicted))
	m.RateLimitTrackedKeys.Set(float64(tracked))
	m.RateLimitSweepDurationSecs.Observe(duration.Seconds())
}

// RecordStoreError records a failed window store operation
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.RateLimitStoreErrorsTotal.WithLabelValues(operation).Inc()
	m.ErrorsTotal.Inc()
}

func (m *Metrics) RecordLeadReceived(locale string) {
	if m == nil {
		return
	}
	m.LeadsReceivedTotal.WithLabelValues(locale).Inc()
}

func (m *Metrics) RecordLeadSpamDropped() {
	if m == nil {
		return
	}
	m.LeadsSpamDroppedTotal.Inc()
}

func (m *Metrics) RecordNewsletterSubscription(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.NewsletterSubscriptionsTotal.WithLabelValues(result).Inc()
}

// RecordNotification records a single delivery attempt on a channel
func (m *Metrics) RecordNotification(channel string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.NotificationDurationSecs.WithLabelValues(channel).Observe(duration.Seconds())
	if err != nil {
		m.NotificationErrorsTotal.WithLabelValues(channel).Inc()
		m.ErrorsTotal.Inc()
		return
	}
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDroppedTotal.Inc()
}

// RecordError counts an error that has no dedicated metric
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.ErrorsTotal.Inc()
}

// Push pushes all metrics to the Pushgateway
func (m *Metrics) Push(ctx context.Context) error {
	if m == nil || m.pusher == nil {
		return nil
	}

	log.Printf("pushing metrics to Pushgateway")
	if err := m.pusher.PushContext(ctx); err != nil {
		log.Printf("metrics: failed to push to Pushgateway: %v", err)
		return fmt.Errorf("failed to push metrics to Pushgateway: %w", err)
	}
	log.Printf("metrics: successfully pushed to Pushgateway")
	return nil
}

// InitializeMetrics creates metrics and, when a Pushgateway URL is given,
// a pusher grouped by instance (hostname by default).
func InitializeMetrics(pushgatewayURL, jobName, instance string) *Metrics {
	if pushgatewayURL == "" {
		log.Printf("metrics: Pushgateway not configured, serving /metrics only")
		return NewMetrics("", "")
	}

	if jobName == "" {
		jobName = "studio-api"
	}
	if instance == "" {
		instance, _ = os.Hostname()
	}

	log.Printf("metrics: Pushgateway URL: %s, Job: %s, Instance: %s", pushgatewayURL, jobName, instance)
	m := NewMetrics(pushgatewayURL, jobName)
	if instance != "" {
		m.pusher = m.pusher.Grouping("instance", instance)
	}

	return m
}

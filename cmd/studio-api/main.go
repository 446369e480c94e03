package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonpn/studio-site/internal/config"
	"github.com/gordonpn/studio-site/internal/httpapi"
	"github.com/gordonpn/studio-site/internal/metrics"
	"github.com/gordonpn/studio-site/internal/notifications"
	"github.com/gordonpn/studio-site/internal/ratelimit"
	"github.com/gordonpn/studio-site/internal/service"
	"github.com/gordonpn/studio-site/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}

	repository := store.NewPostgres(dbPool)
	if err := repository.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	appMetrics := metrics.InitializeMetrics(cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, "")

	limiter, closeStore := buildLimiter(ctx, cfg, appMetrics)
	defer closeStore()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	dispatcher := notifications.NewDispatcher(notifications.Config{
		WorkerCount:        cfg.Notifications.WorkerCount,
		QueueSize:          cfg.Notifications.QueueSize,
		MaxRetries:         cfg.Notifications.MaxRetries,
		RetryBaseBackoffMS: cfg.Notifications.RetryBaseBackoffMS,
		RatePerSecond:      cfg.Notifications.RatePerSecond,
	}, appMetrics, buildNotifiers(cfg.Notifications, httpClient, repository)...)
	dispatcher.Start(ctx)
	log.Printf("lead notifications channels=%v", dispatcher.Notifiers())

	appService := service.New(cfg, repository, limiter, dispatcher, appMetrics)
	router := httpapi.NewRouter(appService, appMetrics.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("studio-api listening on :%s env=%s", cfg.Port, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	dispatcher.Stop()
	cancel()

	if err := appMetrics.Push(shutdownCtx); err != nil {
		log.Printf("metrics push on shutdown failed: %v", err)
	}
}

// buildLimiter returns a nil limiter when rate limiting is switched off.
func buildLimiter(ctx context.Context, cfg config.Config, recorder ratelimit.Recorder) (*ratelimit.Limiter, func()) {
	if !cfg.RateLimitEnabled() {
		log.Printf("rate limiting disabled env=%s (set RATE_LIMIT_IN_DEV=true to enable)", cfg.Environment)
		return nil, func() {}
	}

	var windowStore ratelimit.WindowStore = ratelimit.NewMemoryStore()
	closeStore := func() {}

	if cfg.RateLimit.Store == config.StoreRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping failed: %v", err)
		}
		windowStore = ratelimit.NewRedisStore(client, ratelimit.RedisStoreConfig{TTL: cfg.RateLimit.Retention})
		closeStore = func() { _ = client.Close() }
	}

	limiter := ratelimit.New(ratelimit.Config{
		Store:         windowStore,
		Recorder:      recorder,
		SweepInterval: cfg.RateLimit.SweepInterval,
		Retention:     cfg.RateLimit.Retention,
	})
	limiter.StartSweeper(ctx)

	for _, name := range []string{ratelimit.PolicyLeads, ratelimit.PolicyPosts, ratelimit.PolicyNewsletter} {
		policy, ok := cfg.RateLimit.Policies.Lookup(name)
		if !ok {
			log.Printf("rate limit policy missing name=%s, route is not limited", name)
			continue
		}
		log.Printf("rate limit policy name=%s max=%d window=%s", policy.Name, policy.MaxRequests, policy.Window)
	}
	log.Printf("rate limiting enabled store=%s sweep_interval=%s retention=%s",
		cfg.RateLimit.Store, cfg.RateLimit.SweepInterval, cfg.RateLimit.Retention)

	return limiter, closeStore
}

func buildNotifiers(cfg config.NotificationsConfig, client *http.Client, repository *store.Postgres) []notifications.Notifier {
	notifiers := make([]notifications.Notifier, 0)

	if cfg.ResendAPIKey != "" && cfg.EmailTo != "" {
		notifiers = append(notifiers, notifications.NewEmailNotifier(client, cfg.ResendAPIKey, cfg.EmailFrom, cfg.EmailTo))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notifications.NewWebhookNotifier(client, cfg.WebhookURL, cfg.WebhookToken))
	}
	if cfg.DiscordWebhook != "" {
		notifiers = append(notifiers, notifications.NewDiscordNotifier(client, cfg.DiscordWebhook))
	}
	if cfg.NtfyTopicURL != "" {
		notifiers = append(notifiers, notifications.NewNtfyNotifier(client, cfg.NtfyTopicURL, cfg.NtfyToken))
	}
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" && cfg.VAPIDSubject != "" {
		notifiers = append(notifiers, notifications.NewWebPushNotifier(notifications.WebPushConfig{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			VAPIDSubject:    cfg.VAPIDSubject,
			HTTPClient:      client,
		}, repository))
	}

	return notifiers
}

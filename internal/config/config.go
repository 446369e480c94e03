package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gordonpn/studio-site/internal/ratelimit"
	"github.com/joho/godotenv"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	AdminSecret string

	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Notifications NotificationsConfig
	Metrics       MetricsConfig
}

type RateLimitConfig struct {
	EnabledInDev  bool
	Store         string
	Policies      ratelimit.Policies
	SweepInterval time.Duration
	Retention     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NotificationsConfig struct {
	ResendAPIKey   string
	EmailFrom      string
	EmailTo        string
	WebhookURL     string
	WebhookToken   string
	DiscordWebhook string
	NtfyTopicURL   string
	NtfyToken      string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	WorkerCount        int
	QueueSize          int
	MaxRetries         int
	RetryBaseBackoffMS int
	RatePerSecond      float64
}

type MetricsConfig struct {
	PushgatewayURL string
	JobName        string
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: could not read .env: %v", err)
	}

	config := Config{
		Port:        getEnv("PORT", "4000"),
		Environment: strings.ToLower(getEnv("APP_ENV", EnvironmentDevelopment)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AdminSecret: strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		RateLimit: RateLimitConfig{
			EnabledInDev:  getEnvBool("RATE_LIMIT_IN_DEV", false),
			Store:         strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
			SweepInterval: getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", ratelimit.DefaultSweepInterval),
			Retention:     getEnvDuration("RATE_LIMIT_RETENTION", ratelimit.DefaultRetention),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Notifications: NotificationsConfig{
			ResendAPIKey:       strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
			EmailFrom:          getEnv("LEADS_EMAIL_FROM", "Studio <noreply@studio.local>"),
			EmailTo:            strings.TrimSpace(os.Getenv("LEADS_EMAIL_TO")),
			WebhookURL:         strings.TrimSpace(os.Getenv("LEADS_WEBHOOK_URL")),
			WebhookToken:       strings.TrimSpace(os.Getenv("LEADS_WEBHOOK_TOKEN")),
			DiscordWebhook:     strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_URL")),
			NtfyTopicURL:       strings.TrimSpace(os.Getenv("NTFY_TOPIC_URL")),
			NtfyToken:          strings.TrimSpace(os.Getenv("NTFY_TOKEN")),
			VAPIDPublicKey:     strings.TrimSpace(os.Getenv("VAPID_PUBLIC_KEY")),
			VAPIDPrivateKey:    strings.TrimSpace(os.Getenv("VAPID_PRIVATE_KEY")),
			VAPIDSubject:       strings.TrimSpace(os.Getenv("VAPID_SUBJECT")),
			WorkerCount:        getEnvInt("WORKER_COUNT", 4),
			QueueSize:          getEnvInt("QUEUE_SIZE", 256),
			MaxRetries:         getEnvInt("MAX_RETRIES", 3),
			RetryBaseBackoffMS: getEnvInt("RETRY_BASE_BACKOFF_MS", 400),
			RatePerSecond:      getEnvFloat("NOTIFY_RATE_PER_SECOND", 5),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: strings.TrimSpace(os.Getenv("PROMETHEUS_PUSHGATEWAY_URL")),
			JobName:        getEnv("PROMETHEUS_JOB_NAME", "studio-api"),
		},
	}

	if config.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	policies, err := ratelimit.ParsePolicies(os.Getenv("RATE_LIMIT_POLICIES"), ratelimit.DefaultPolicies())
	if err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_POLICIES: %w", err)
	}
	config.RateLimit.Policies = policies

	switch config.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if config.Redis.Addr == "" {
			return Config{}, errors.New("REDIS_ADDR is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return Config{}, fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, config.RateLimit.Store)
	}

	if config.RateLimit.SweepInterval <= 0 {
		config.RateLimit.SweepInterval = ratelimit.DefaultSweepInterval
	}
	if config.RateLimit.Retention <= 0 {
		config.RateLimit.Retention = ratelimit.DefaultRetention
	}
	if config.Notifications.WorkerCount < 1 {
		config.Notifications.WorkerCount = 1
	}
	if config.Notifications.QueueSize < 1 {
		config.Notifications.QueueSize = 128
	}

	return config, nil
}

func (config Config) IsProduction() bool {
	return config.Environment == EnvironmentProduction
}

// RateLimitEnabled reports whether requests are limited: always in
// production, and outside production only when RATE_LIMIT_IN_DEV=true.
func (config Config) RateLimitEnabled() bool {
	return config.IsProduction() || config.RateLimit.EnabledInDev
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

// getEnvBool accepts only the literal "true" (case-insensitive) as true.
func getEnvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return strings.EqualFold(raw, "true")
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

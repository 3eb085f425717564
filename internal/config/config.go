// Package config loads runtime settings from the environment. Values come
// from process env vars, optionally seeded from a .env file by the caller.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	URL         string
	MaxOpenConn int
	ConnMaxIdle time.Duration
	Migrate     bool
}

// DispatchConfig bounds the in-app fan-out.
type DispatchConfig struct {
	Workers int
	// Rate limits message inserts per second across all workers.
	// Zero disables the limiter.
	Rate float64
}

// EmailConfig configures the Resend adapter.
type EmailConfig struct {
	APIKey string
	From   string
}

// KafkaConfig configures the lifecycle event producer. Empty Brokers
// disables Kafka entirely.
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// RedisConfig configures the per-admin rate limit middleware. Empty Addr
// disables it.
type RedisConfig struct {
	Addr string
	// RateLimit is the allowed broadcast sends per admin per minute.
	RateLimit int
}

// CronConfig configures the background flush schedule. Empty Spec disables
// the scheduler.
type CronConfig struct {
	Spec  string
	Force bool
	Limit int
}

// Config is the full runtime configuration of the broadcast daemon.
type Config struct {
	Port         string
	JWTSecret    string
	OTLPEndpoint string
	DB           DBConfig
	Dispatch     DispatchConfig
	Email        EmailConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Cron         CronConfig
}

// Load reads the configuration from environment variables, applying
// defaults where a variable is unset.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		DB: DBConfig{
			URL:         os.Getenv("DB_URL"),
			MaxOpenConn: getEnvInt("DB_MAX_OPEN", 10),
			ConnMaxIdle: getEnvDuration("DB_CONN_IDLE", 5*time.Minute),
			Migrate:     getEnvBool("DB_MIGRATE", false),
		},
		Dispatch: DispatchConfig{
			Workers: getEnvInt("DISPATCH_WORKERS", 8),
			Rate:    getEnvFloat("DISPATCH_RATE", 0),
		},
		Email: EmailConfig{
			APIKey: os.Getenv("RESEND_API_KEY"),
			From:   getEnv("FROM_EMAIL", "noreply@campuskit.dev"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(os.Getenv("KAFKA_BROKERS")),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "broadcast-events"),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			RateLimit: getEnvInt("BROADCAST_RATE_LIMIT", 30),
		},
		Cron: CronConfig{
			Spec:  os.Getenv("FLUSH_CRON"),
			Force: getEnvBool("FLUSH_CRON_FORCE", false),
			Limit: getEnvInt("FLUSH_CRON_LIMIT", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads all backend configuration from the environment.
// A local .env file is honored when present; real environment variables
// always win.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all backend configuration.
type Config struct {
	Port int

	Mongo     MongoConfig
	Memory    MemoryConfig
	YouTube   YouTubeConfig
	Sync      SyncConfig
	Retention RetentionConfig
	Notify    NotifyConfig
	Telemetry TelemetryConfig
	CORS      CORSConfig
}

// MongoConfig covers the operational database (chats, tracked channels,
// saved responses, analytics snapshots).
type MongoConfig struct {
	URI      string
	Database string
}

// MemoryConfig covers the agent memory hierarchy: Redis for the
// short-term tier, MongoDB for the long-term and central tiers. The
// Mongo URLs default to the operational URI so a single-cluster setup
// needs only MONGODB_URI.
type MemoryConfig struct {
	STMRedisURL      string
	LTMMongoURL      string
	CentralMongoURL  string
	LTMDatabase      string
	CentralDatabase  string
	MetricsRedisDB   int
	PromoteThreshold float64
	ShareThreshold   float64
}

// YouTubeConfig covers the data API client.
type YouTubeConfig struct {
	APIKey  string
	BaseURL string
}

// SyncConfig controls the background memory-sync job.
type SyncConfig struct {
	Enabled         bool
	IntervalMinutes int
}

// RetentionConfig covers the background sweep that caps stored
// analytics snapshots and expires stale recommendation batches.
type RetentionConfig struct {
	Enabled            bool
	IntervalHours      int
	KeepSnapshots      int
	RecommendationDays int
}

// NotifyConfig covers urgent-insight webhook delivery.
type NotifyConfig struct {
	WebhookURLs   []string
	WebhookSecret string
}

// TelemetryConfig covers OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
}

// CORSConfig covers browser access from the dashboard.
type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from the environment.
func Load() *Config {
	// Optional .env for local dev; silently absent in production.
	_ = godotenv.Load()

	mongoURI := envStr("MONGODB_URI", "mongodb://localhost:27017")

	return &Config{
		Port: envInt("PORT", 8000),
		Mongo: MongoConfig{
			URI:      mongoURI,
			Database: envStr("MONGODB_DB", "youtube_ops"),
		},
		Memory: MemoryConfig{
			STMRedisURL:      envStr("STM_DATABASE_URL", "redis://localhost:6379/0"),
			LTMMongoURL:      envStr("LTM_DATABASE_URL", mongoURI),
			CentralMongoURL:  envStr("CENTRALMEMORY_DATABASE_URL", mongoURI),
			LTMDatabase:      envStr("LTM_DATABASE_NAME", "youtube_agents_ltm"),
			CentralDatabase:  envStr("CENTRALMEMORY_DATABASE_NAME", "youtube_agents_central"),
			MetricsRedisDB:   envInt("METRICS_REDIS_DB", 1),
			PromoteThreshold: envFloat("STM_TO_LTM_THRESHOLD", 0.7),
			ShareThreshold:   envFloat("LTM_TO_CENTRAL_THRESHOLD", 0.8),
		},
		YouTube: YouTubeConfig{
			APIKey:  envStr("YOUTUBE_API_KEY", ""),
			BaseURL: envStr("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		},
		Sync: SyncConfig{
			Enabled:         envBool("VIEWCRAFT_SYNC_ENABLED", true),
			IntervalMinutes: envInt("VIEWCRAFT_SYNC_INTERVAL_MINUTES", 30),
		},
		Retention: RetentionConfig{
			Enabled:            envBool("VIEWCRAFT_RETENTION_ENABLED", true),
			IntervalHours:      envInt("VIEWCRAFT_RETENTION_INTERVAL_HOURS", 6),
			KeepSnapshots:      envInt("VIEWCRAFT_KEEP_SNAPSHOTS", 30),
			RecommendationDays: envInt("VIEWCRAFT_RECOMMENDATION_DAYS", 90),
		},
		Notify: NotifyConfig{
			WebhookURLs:   envList("VIEWCRAFT_URGENT_WEBHOOK_URLS"),
			WebhookSecret: envStr("VIEWCRAFT_WEBHOOK_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("VIEWCRAFT_TELEMETRY_ENABLED", false),
			ServiceName:  envStr("VIEWCRAFT_SERVICE_NAME", "viewcraft-backend"),
			OTLPEndpoint: envStr("VIEWCRAFT_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("VIEWCRAFT_OTLP_INSECURE", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: envListDefault("VIEWCRAFT_CORS_ORIGINS", []string{"*"}),
		},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envList parses a comma-separated env var into a slice, dropping empties.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envListDefault(key string, def []string) []string {
	if out := envList(key); out != nil {
		return out
	}
	return def
}

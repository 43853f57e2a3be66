// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the asynq queue client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqConcurrency() int
}

// AIConfig provides settings for the external AI inference service.
type AIConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetAITimeout() time.Duration
	IsAIEnabled() bool
}

// VisionConfig provides settings for the photo analysis service.
type VisionConfig interface {
	GetVisionURL() string
	GetVisionAPIKey() string
	IsVisionEnabled() bool
}

// ChannelConfig provides settings for the chat channel adapters.
type ChannelConfig interface {
	GetTelegramBotToken() string
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWebChannelURL() string
	GetWebChannelKey() string
	GetConsentLinkURL() string
	GetFlowFormURL() string
	GetSendRatePerSecond() float64
}

// StorageConfig provides settings for MinIO S3-compatible photo storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketLeadPhotos() string
	IsMinIOEnabled() bool
}

// FunnelConfig provides tuning for the orchestration core.
type FunnelConfig interface {
	GetPhotoDebounceWindow() time.Duration
	GetFollowupIntervals() []time.Duration
	GetMaxFollowupAttempts() int
	GetSendWindowStartHour() int
	GetSendWindowEndHour() int
	GetRequiredPhotoCount() int
}

// WebhookConfig provides settings for inbound webhook authentication.
type WebhookConfig interface {
	GetWebhookAPIKey() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	CORSOrigins         []string
	RedisURL            string
	RedisTLSInsecure    bool
	AsynqConcurrency    int
	GeminiAPIKey        string
	GeminiModel         string
	AITimeout           time.Duration
	VisionURL           string
	VisionAPIKey        string
	TelegramBotToken    string
	WhatsAppURL         string
	WhatsAppKey         string
	WebChannelURL       string
	WebChannelKey       string
	ConsentLinkURL      string
	FlowFormURL         string
	SendRatePerSecond   float64
	MinIOEndpoint       string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOUseSSL         bool
	MinioBucketPhotos   string
	PhotoDebounceWindow time.Duration
	FollowupIntervals   []time.Duration
	MaxFollowupAttempts int
	SendWindowStart     int
	SendWindowEnd       int
	RequiredPhotoCount  int
	WebhookAPIKey       string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// AIConfig implementation
func (c *Config) GetGeminiAPIKey() string     { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string      { return c.GeminiModel }
func (c *Config) GetAITimeout() time.Duration { return c.AITimeout }
func (c *Config) IsAIEnabled() bool           { return c.GeminiAPIKey != "" }

// VisionConfig implementation
func (c *Config) GetVisionURL() string    { return c.VisionURL }
func (c *Config) GetVisionAPIKey() string { return c.VisionAPIKey }
func (c *Config) IsVisionEnabled() bool   { return c.VisionURL != "" }

// ChannelConfig implementation
func (c *Config) GetTelegramBotToken() string    { return c.TelegramBotToken }
func (c *Config) GetWhatsAppURL() string         { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string         { return c.WhatsAppKey }
func (c *Config) GetWebChannelURL() string       { return c.WebChannelURL }
func (c *Config) GetWebChannelKey() string       { return c.WebChannelKey }
func (c *Config) GetConsentLinkURL() string      { return c.ConsentLinkURL }
func (c *Config) GetFlowFormURL() string         { return c.FlowFormURL }
func (c *Config) GetSendRatePerSecond() float64  { return c.SendRatePerSecond }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketLeadPhotos() string { return c.MinioBucketPhotos }
func (c *Config) IsMinIOEnabled() bool            { return c.MinIOEndpoint != "" }

// FunnelConfig implementation
func (c *Config) GetPhotoDebounceWindow() time.Duration  { return c.PhotoDebounceWindow }
func (c *Config) GetFollowupIntervals() []time.Duration  { return c.FollowupIntervals }
func (c *Config) GetMaxFollowupAttempts() int            { return c.MaxFollowupAttempts }
func (c *Config) GetSendWindowStartHour() int            { return c.SendWindowStart }
func (c *Config) GetSendWindowEndHour() int              { return c.SendWindowEnd }
func (c *Config) GetRequiredPhotoCount() int             { return c.RequiredPhotoCount }

// WebhookConfig implementation
func (c *Config) GetWebhookAPIKey() string { return c.WebhookAPIKey }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		CORSOrigins:         splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AITimeout:           mustDuration(getEnv("AI_TIMEOUT", "30s")),
		VisionURL:           getEnv("VISION_API_URL", ""),
		VisionAPIKey:        getEnv("VISION_API_KEY", ""),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		WhatsAppURL:         getEnv("WHATSAPP_API_URL", ""),
		WhatsAppKey:         getEnv("WHATSAPP_API_KEY", ""),
		WebChannelURL:       getEnv("WEB_CHANNEL_URL", ""),
		WebChannelKey:       getEnv("WEB_CHANNEL_KEY", ""),
		ConsentLinkURL:      getEnv("CONSENT_LINK_URL", ""),
		FlowFormURL:         getEnv("FLOW_FORM_URL", ""),
		SendRatePerSecond:   mustFloat(getEnv("CHANNEL_SEND_RATE", "5")),
		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:         strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketPhotos:   getEnv("MINIO_BUCKET_LEAD_PHOTOS", "lead-photos"),
		PhotoDebounceWindow: mustDuration(getEnv("PHOTO_DEBOUNCE_WINDOW", "5s")),
		FollowupIntervals:   parseIntervals(getEnv("FOLLOWUP_INTERVALS", "24h,72h,168h")),
		MaxFollowupAttempts: mustInt(getEnv("MAX_FOLLOWUP_ATTEMPTS", "3")),
		SendWindowStart:     mustInt(getEnv("SEND_WINDOW_START_HOUR", "9")),
		SendWindowEnd:       mustInt(getEnv("SEND_WINDOW_END_HOUR", "21")),
		RequiredPhotoCount:  mustInt(getEnv("REQUIRED_PHOTO_COUNT", "4")),
		WebhookAPIKey:       getEnv("WEBHOOK_API_KEY", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxFollowupAttempts < 1 {
		return nil, fmt.Errorf("MAX_FOLLOWUP_ATTEMPTS must be at least 1")
	}
	if len(cfg.FollowupIntervals) == 0 {
		return nil, fmt.Errorf("FOLLOWUP_INTERVALS must contain at least one interval")
	}
	if cfg.SendWindowStart < 0 || cfg.SendWindowEnd > 24 || cfg.SendWindowStart >= cfg.SendWindowEnd {
		return nil, fmt.Errorf("send window hours are invalid")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func parseIntervals(value string) []time.Duration {
	parts := splitCSV(value)
	intervals := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			continue
		}
		intervals = append(intervals, d)
	}
	return intervals
}

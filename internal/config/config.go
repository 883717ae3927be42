package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	// PhoneCipherKey is the AES-256 key (hex encoded, 32 bytes) used to
	// encrypt contact phone numbers at rest.
	PhoneCipherKey []byte

	// TickInterval is how often the scheduler/escalation/retry pass runs.
	TickInterval time.Duration
	// TickSecret guards the POST /internal/tick endpoint for external cron.
	// Empty disables the endpoint.
	TickSecret string

	// SendTimeout bounds each outbound provider call.
	SendTimeout time.Duration
	// SMSMaxRetries is the retry budget for a failed SMS delivery.
	SMSMaxRetries int

	LogFormat string
	LogLevel  string
	DevMode   bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:          "8080",
		TickInterval:  time.Minute,
		SendTimeout:   30 * time.Second,
		SMSMaxRetries: 5,
		LogFormat:     "json",
		LogLevel:      "info",
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	keyHex := os.Getenv("PHONE_CIPHER_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("PHONE_CIPHER_KEY environment variable is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("PHONE_CIPHER_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("PHONE_CIPHER_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.PhoneCipherKey = key

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TICK_INTERVAL %q", v)
		}
		cfg.TickInterval = d
	}

	cfg.TickSecret = os.Getenv("TICK_SECRET")

	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT %q", v)
		}
		cfg.SendTimeout = d
	}

	if v := os.Getenv("SMS_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid SMS_MAX_RETRIES %q", v)
		}
		cfg.SMSMaxRetries = n
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}

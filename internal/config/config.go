/**
 * @description
 * Configuration management for the prize distribution service.
 * Settings come from environment variables (optionally a .env file loaded by
 * the binaries) through Viper. Required credentials are validated here so the
 * process refuses to start without them.
 */
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minConfirmationValidityHours = 7 * 24

// Config holds all configuration for the prize distribution service.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RetryLockKey              string `mapstructure:"RETRY_LOCK_KEY"`
	RetryLockTTLSeconds       int    `mapstructure:"RETRY_LOCK_TTL_SECONDS"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	StripeAPIBaseURL          string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey           string `mapstructure:"STRIPE_SECRET_KEY"`
	PayoutCurrency            string `mapstructure:"PAYOUT_CURRENCY"`
	BrevoAPIBaseURL           string `mapstructure:"BREVO_API_BASE_URL"`
	BrevoAPIKey               string `mapstructure:"BREVO_API_KEY"`
	EmailSenderAddress        string `mapstructure:"EMAIL_SENDER_ADDRESS"`
	EmailSenderName           string `mapstructure:"EMAIL_SENDER_NAME"`
	SiteBaseURL               string `mapstructure:"SITE_BASE_URL"`
	ConfirmationSigningSecret string `mapstructure:"CONFIRMATION_SIGNING_SECRET"`
	ConfirmationValidityHours int    `mapstructure:"CONFIRMATION_VALIDITY_HOURS"`
	RetryJobSchedule          string `mapstructure:"RETRY_JOB_SCHEDULE"`
	RetryJobEnabled           bool   `mapstructure:"RETRY_JOB_ENABLED"`
	RetryJobTimeoutSeconds    int    `mapstructure:"RETRY_JOB_TIMEOUT_SECONDS"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	ClerkJWKSURL              string `mapstructure:"CLERK_JWKS_URL"`
}

// ConfirmationValidity returns the confirmation link lifetime.
func (c Config) ConfirmationValidity() time.Duration {
	return time.Duration(c.ConfirmationValidityHours) * time.Hour
}

// RetryLockTTL returns how long a retry pass may hold the distributed lock.
func (c Config) RetryLockTTL() time.Duration {
	return time.Duration(c.RetryLockTTLSeconds) * time.Second
}

// RetryJobTimeout bounds a scheduled retry pass.
func (c Config) RetryJobTimeout() time.Duration {
	return time.Duration(c.RetryJobTimeoutSeconds) * time.Second
}

// LoadConfig reads configuration from environment variables and validates it.
func LoadConfig() (Config, error) {
	var config Config

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RETRY_LOCK_KEY", "prizes:retry_pass:lock")
	viper.SetDefault("RETRY_LOCK_TTL_SECONDS", 900)
	viper.SetDefault("EVENTS_EXCHANGE", "quicklifts.events")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("PAYOUT_CURRENCY", "usd")
	viper.SetDefault("BREVO_API_BASE_URL", "https://api.brevo.com")
	viper.SetDefault("EMAIL_SENDER_NAME", "Pulse")
	viper.SetDefault("CONFIRMATION_VALIDITY_HOURS", minConfirmationValidityHours)
	viper.SetDefault("RETRY_JOB_SCHEDULE", "0 10 * * *") // Daily at 10:00 UTC.
	viper.SetDefault("RETRY_JOB_ENABLED", true)
	viper.SetDefault("RETRY_JOB_TIMEOUT_SECONDS", 600)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RETRY_LOCK_KEY")
	_ = viper.BindEnv("RETRY_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("PAYOUT_CURRENCY")
	_ = viper.BindEnv("BREVO_API_BASE_URL")
	_ = viper.BindEnv("BREVO_API_KEY")
	_ = viper.BindEnv("EMAIL_SENDER_ADDRESS")
	_ = viper.BindEnv("EMAIL_SENDER_NAME")
	_ = viper.BindEnv("SITE_BASE_URL")
	_ = viper.BindEnv("CONFIRMATION_SIGNING_SECRET", "CONFIRMATION_SIGNING_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("CONFIRMATION_VALIDITY_HOURS")
	_ = viper.BindEnv("RETRY_JOB_SCHEDULE")
	_ = viper.BindEnv("RETRY_JOB_ENABLED")
	_ = viper.BindEnv("RETRY_JOB_TIMEOUT_SECONDS")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")

	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.PayoutCurrency = strings.ToLower(strings.TrimSpace(config.PayoutCurrency))
	config.SiteBaseURL = strings.TrimSuffix(strings.TrimSpace(config.SiteBaseURL), "/")
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)

	if config.ConfirmationValidityHours < minConfirmationValidityHours {
		slog.Warn("confirmation validity below minimum; raising", "configured_hours", config.ConfirmationValidityHours, "hours", minConfirmationValidityHours)
		config.ConfirmationValidityHours = minConfirmationValidityHours
	}
	if config.RetryLockTTLSeconds <= 0 {
		config.RetryLockTTLSeconds = 900
	}
	if config.RetryJobTimeoutSeconds <= 0 {
		config.RetryJobTimeoutSeconds = 600
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
		{"BREVO_API_KEY", c.BrevoAPIKey},
		{"EMAIL_SENDER_ADDRESS", c.EmailSenderAddress},
		{"SITE_BASE_URL", c.SiteBaseURL},
		{"CONFIRMATION_SIGNING_SECRET", c.ConfirmationSigningSecret},
	}

	var missing []string
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			missing = append(missing, item.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"encoding/json"

	"herald/internal/constants"
	"herald/internal/models"
)

var (
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
	ErrMissingWhatsAppURL  = models.ConfigError{Message: "missing WhatsApp gateway URL"}
	ErrMissingInstagramURL = models.ConfigError{Message: "missing Instagram gateway URL"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - path comes from the operator's -config flag
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecrets(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Senders.WhatsApp.BaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	if c.Senders.Instagram.BaseURL == "" {
		return ErrMissingInstagramURL
	}

	if c.Inbound.Enabled && c.Inbound.WebsocketURL == "" {
		return models.ConfigError{Message: "inbound listener enabled but websocketUrl is empty"}
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = constants.DefaultWorkerCount
	}
	if c.Dispatch.PollIntervalMs <= 0 {
		c.Dispatch.PollIntervalMs = constants.DefaultPollIntervalMs
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Dispatch.RetryBaseSec <= 0 {
		c.Dispatch.RetryBaseSec = constants.DefaultRetryBaseSec
	}
	if c.Dispatch.RetryMaxDelaySec <= 0 {
		c.Dispatch.RetryMaxDelaySec = constants.DefaultRetryMaxDelaySec
	}
	if c.Dispatch.RetryMaxDelaySec < c.Dispatch.RetryBaseSec {
		return models.ConfigError{Message: "retryMaxDelaySec must be >= retryBaseSec"}
	}
	if c.Dispatch.NoSessionDelaySec <= 0 {
		c.Dispatch.NoSessionDelaySec = constants.DefaultNoSessionDelaySec
	}
	if c.Dispatch.SendsPerSecond <= 0 {
		c.Dispatch.SendsPerSecond = constants.DefaultSendsPerSecond
	}
	if c.Dispatch.CooldownMinutes <= 0 {
		c.Dispatch.CooldownMinutes = constants.DefaultCooldownMinutes
	}

	if c.Senders.WhatsApp.TimeoutSec <= 0 {
		c.Senders.WhatsApp.TimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Senders.Instagram.TimeoutSec <= 0 {
		c.Senders.Instagram.TimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Classify.TimeoutSec <= 0 {
		c.Classify.TimeoutSec = constants.DefaultClassifyTimeoutSec
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = 24
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("HERALD_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("HERALD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}

	// Credentials are environment-only so they never land in the config
	// file on disk.
	if secret := os.Getenv("HERALD_WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}
	if key := os.Getenv("HERALD_WHATSAPP_API_KEY"); key != "" {
		c.Senders.WhatsApp.APIKey = key
	}
	if key := os.Getenv("HERALD_INSTAGRAM_API_KEY"); key != "" {
		c.Senders.Instagram.APIKey = key
	}

	if url := os.Getenv("HERALD_WHATSAPP_URL"); url != "" {
		c.Senders.WhatsApp.BaseURL = url
	}
	if url := os.Getenv("HERALD_INSTAGRAM_URL"); url != "" {
		c.Senders.Instagram.BaseURL = url
	}
	if url := os.Getenv("HERALD_CLASSIFY_URL"); url != "" {
		c.Classify.ServiceURL = url
	}
}

// validateSecrets enforces credential requirements after env overrides.
func validateSecrets(c *models.Config) error {
	isProduction := os.Getenv("HERALD_ENV") == "production"

	if isProduction {
		if c.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set HERALD_WEBHOOK_SECRET)"}
		}
		if len(c.Server.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production"}
		}
	} else if c.Server.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set HERALD_WEBHOOK_SECRET to authenticate reply webhooks.\n")
	}

	return nil
}

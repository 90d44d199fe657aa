package models

import "fmt"

// ConfigError represents a configuration validation failure.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Message)
}

// Config is the top-level application configuration, loaded from JSON with
// environment overrides applied afterwards.
type Config struct {
	LogLevel string         `json:"logLevel"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Dispatch DispatchConfig `json:"dispatch"`
	Senders  SendersConfig  `json:"senders"`
	Classify ClassifyConfig `json:"classify"`
	Inbound  InboundConfig  `json:"inbound"`
	Tracing  TracingConfig  `json:"tracing"`

	RetentionDays        int `json:"retentionDays"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port          int    `json:"port"`
	WebhookSecret string `json:"-"`
}

// DatabaseConfig controls the sqlite store.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DispatchConfig tunes the worker pool.
type DispatchConfig struct {
	Workers           int  `json:"workers"`
	PollIntervalMs    int  `json:"pollIntervalMs"`
	MaxAttempts       int  `json:"maxAttempts"`
	RetryBaseSec      int  `json:"retryBaseSec"`
	RetryMaxDelaySec  int  `json:"retryMaxDelaySec"`
	NoSessionDelaySec int  `json:"noSessionDelaySec"`
	SendsPerSecond    int  `json:"sendsPerSecond"`
	CooldownMinutes   int  `json:"cooldownMinutes"`
	ResetCronSpec     string `json:"resetCronSpec,omitempty"`
}

// SendersConfig configures the per-channel provider clients.
type SendersConfig struct {
	WhatsApp  SenderEndpoint `json:"whatsapp"`
	Instagram SenderEndpoint `json:"instagram"`
}

// SenderEndpoint is a provider gateway address plus call parameters.
type SenderEndpoint struct {
	BaseURL    string `json:"baseUrl"`
	APIKey     string `json:"-"`
	TimeoutSec int    `json:"timeoutSec"`
}

// ClassifyConfig configures the intent classification adapter.
type ClassifyConfig struct {
	ServiceURL string `json:"serviceUrl,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`
}

// InboundConfig configures the provider reply event stream.
type InboundConfig struct {
	Enabled      bool   `json:"enabled"`
	WebsocketURL string `json:"websocketUrl,omitempty"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	ServiceName  string  `json:"serviceName"`
	Environment  string  `json:"environment"`
	OTLPEndpoint string  `json:"otlpEndpoint,omitempty"`
	SampleRate   float64 `json:"sampleRate"`
	UseStdout    bool    `json:"useStdout"`
}

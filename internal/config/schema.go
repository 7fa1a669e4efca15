package config

import (
	"net"
	"time"
)

// Config holds folio configuration.
// Stored at: config.yaml (or the path given with --config)
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Database  DatabaseCfg  `mapstructure:"database" yaml:"database"`
	Assistant AssistantCfg `mapstructure:"assistant" yaml:"assistant"`
	Scheduler SchedulerCfg `mapstructure:"scheduler" yaml:"scheduler"`
}

// ServerCfg configures the HTTP API listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// Addr returns the host:port the server binds to.
func (s ServerCfg) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// DatabaseCfg configures the SQLite database.
type DatabaseCfg struct {
	// Path is the database file. ":memory:" runs ephemeral.
	Path string `mapstructure:"path" yaml:"path"`
}

// AssistantCfg configures the assistant service client.
type AssistantCfg struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	AssistantID    string `mapstructure:"assistant_id" yaml:"assistant_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"` // HTTP-level retries per request
}

// SchedulerCfg configures the queue workers and retry policy.
type SchedulerCfg struct {
	Workers                 int `mapstructure:"workers" yaml:"workers"`
	PollIntervalSeconds     int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	StageDelaySeconds       int `mapstructure:"stage_delay_seconds" yaml:"stage_delay_seconds"`
	MaxRetries              int `mapstructure:"max_retries" yaml:"max_retries"` // unstable-response retries per stage
	RetryDelaySeconds       int `mapstructure:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	TransportAttempts       int `mapstructure:"transport_attempts" yaml:"transport_attempts"`
	TransportBackoffSeconds int `mapstructure:"transport_backoff_seconds" yaml:"transport_backoff_seconds"`
}

// PollInterval returns the run poll interval as a duration.
func (s SchedulerCfg) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// StageDelay returns the pause between extraction stages as a duration.
func (s SchedulerCfg) StageDelay() time.Duration {
	return time.Duration(s.StageDelaySeconds) * time.Second
}

// RetryDelay returns the pause before an unstable-response retry.
func (s SchedulerCfg) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// TransportBackoff returns the base transport redelivery backoff.
func (s SchedulerCfg) TransportBackoff() time.Duration {
	return time.Duration(s.TransportBackoffSeconds) * time.Second
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8399",
		},
		Database: DatabaseCfg{
			Path: "folio.db",
		},
		Assistant: AssistantCfg{
			APIKey:         "${OPENAI_API_KEY}",
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 60,
			MaxRetries:     3,
		},
		Scheduler: SchedulerCfg{
			Workers:                 4,
			PollIntervalSeconds:     2,
			StageDelaySeconds:       1,
			MaxRetries:              3,
			RetryDelaySeconds:       10,
			TransportAttempts:       5,
			TransportBackoffSeconds: 15,
		},
	}
}

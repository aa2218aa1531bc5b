// Package config loads and watches server configuration.
package config

import (
	"time"

	"github.com/codescope-ai/codescope/internal/agent"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Port        int      `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AgentConfig selects and tunes the analysis CLI.
type AgentConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	Executable     string `mapstructure:"executable" yaml:"executable"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	OutputFormat   string `mapstructure:"output_format" yaml:"output_format"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours" yaml:"token_ttl_hours"`
}

type EventsConfig struct {
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
	FlushIntervalMS int `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
}

// RunnerConfig converts the agent section into the runner's config.
func (c AgentConfig) RunnerConfig() agent.Config {
	return agent.Config{
		Provider:   c.Type,
		Executable: c.Executable,
		Timeout:    time.Duration(c.TimeoutSeconds) * time.Second,
		MaxRetries: c.MaxRetries,
		Format:     agent.OutputFormat(c.OutputFormat),
		APIKey:     c.APIKey,
	}
}

// FlushInterval returns the batch writer interval.
func (c EventsConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// TokenTTL returns the bearer token lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// Package agent spawns external analysis CLIs and streams their output
// through the normalization pipeline.
package agent

import "time"

// OutputFormat selects how the agent CLI is asked to format its output.
type OutputFormat string

const (
	// FormatText leaves the CLI in its default plain-text mode.
	FormatText OutputFormat = "text"

	// FormatJSON asks for a single JSON document at the end of the run.
	FormatJSON OutputFormat = "json"

	// FormatStreamJSON asks for line-delimited JSON as the run progresses.
	FormatStreamJSON OutputFormat = "stream-json"

	// FormatStreamJSONPartial additionally streams partial assistant
	// message fragments, which the delta merger reassembles.
	FormatStreamJSONPartial OutputFormat = "stream-json-partial"
)

// Streaming reports whether the format emits line-delimited events.
func (f OutputFormat) Streaming() bool {
	return f == FormatStreamJSON || f == FormatStreamJSONPartial
}

const (
	DefaultTimeout    = 10 * time.Minute
	DefaultMaxRetries = 3
	retryDelay        = 2 * time.Second
)

// Config holds everything needed to run one provider's CLI.
type Config struct {
	// Provider is the registered provider name (claude, gemini, cursor).
	Provider string

	// Executable overrides the provider's default binary name or path.
	Executable string

	// WorkDir is the project directory the CLI analyzes. Must exist.
	WorkDir string

	// Timeout bounds a single attempt, not the whole retry loop.
	Timeout time.Duration

	// MaxRetries is the total number of attempts for transient failures.
	MaxRetries int

	// Format selects the CLI output mode.
	Format OutputFormat

	// APIKey, when set, is injected into the child environment under the
	// provider's key variable.
	APIKey string
}

func (c Config) withDefaults(p Provider) Config {
	if c.Executable == "" {
		c.Executable = p.DefaultExecutable
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Format == "" {
		c.Format = FormatStreamJSON
	}
	return c
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codescope-ai/codescope/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), logging.NewNop())

	cfg, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "gemini", cfg.Agent.Type)
	require.Equal(t, 600, cfg.Agent.TimeoutSeconds)
	require.Equal(t, 3, cfg.Agent.MaxRetries)
	require.Equal(t, "stream-json", cfg.Agent.OutputFormat)
	require.Equal(t, "codescope.db", cfg.Database.Path)
	require.Equal(t, 50, cfg.Events.BatchSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
agent:
  type: claude
  timeout_seconds: 120
`), 0o644))

	l := NewLoader(path, logging.NewNop())
	cfg, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "claude", cfg.Agent.Type)
	require.Equal(t, 120, cfg.Agent.TimeoutSeconds)
	// Untouched keys keep defaults.
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  type: claude\n"), 0o644))

	t.Setenv("CODESCOPE_AGENT_TYPE", "cursor")

	l := NewLoader(path, logging.NewNop())
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "cursor", cfg.Agent.Type)
}

func TestExplicitSetWins(t *testing.T) {
	t.Setenv("CODESCOPE_SERVER_PORT", "7000")

	l := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), logging.NewNop())
	l.Set("server.port", 6000)

	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 6000, cfg.Server.Port)
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	l := NewLoader(path, logging.NewNop())
	_, err := l.Load()
	require.Error(t, err)
}

func TestRunnerConfigConversion(t *testing.T) {
	cfg := AgentConfig{
		Type:           "claude",
		Executable:     "/usr/local/bin/claude",
		TimeoutSeconds: 90,
		MaxRetries:     2,
		OutputFormat:   "stream-json",
	}

	rc := cfg.RunnerConfig()
	require.Equal(t, "claude", rc.Provider)
	require.Equal(t, "/usr/local/bin/claude", rc.Executable)
	require.Equal(t, int64(90), int64(rc.Timeout.Seconds()))
	require.Equal(t, 2, rc.MaxRetries)
}

func TestWriteStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codescope.yaml")
	require.NoError(t, WriteStarter(path))

	// The generated file must load cleanly.
	l := NewLoader(path, logging.NewNop())
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.Agent.Type)

	// No clobbering.
	require.Error(t, WriteStarter(path))
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  type: gemini\n"), 0o644))

	l := NewLoader(path, logging.NewNop())
	_, err := l.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	stop, err := l.Watch(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("agent:\n  type: claude\n"), 0o644))

	require.Eventually(t, func() bool {
		select {
		case cfg := <-reloaded:
			return cfg.Agent.Type == "claude"
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond, "watcher should deliver the reloaded config")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/codescope-ai/codescope/internal/logging"
)

const envPrefix = "CODESCOPE"

// Loader reads configuration with precedence: flags > environment > config
// file > defaults. Environment variables use the CODESCOPE prefix with
// underscores, e.g. CODESCOPE_AGENT_TYPE.
type Loader struct {
	v   *viper.Viper
	log *logging.Logger
}

// NewLoader creates a loader. configPath may be empty, in which case the
// usual locations are searched.
func NewLoader(configPath string, log *logging.Logger) *Loader {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("codescope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".codescope"))
		}
	}

	return &Loader{v: v, log: log.WithComponent("config")}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("database.path", "codescope.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")

	v.SetDefault("agent.type", "gemini")
	v.SetDefault("agent.executable", "")
	v.SetDefault("agent.timeout_seconds", 600)
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.output_format", "stream-json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl_hours", 24)

	v.SetDefault("events.batch_size", 50)
	v.SetDefault("events.flush_interval_ms", 2000)
}

// Load reads config from all sources. A missing config file is fine; a
// malformed one is not.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		l.log.Debug("config file loaded", "path", l.v.ConfigFileUsed())
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set overrides a key, used to bind command-line flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Watch reloads the config file on change and calls onChange with the fresh
// config. Returns a stop function. Only file-backed settings reload; env
// overrides keep their precedence.
func (l *Loader) Watch(onChange func(*Config)) (func(), error) {
	path := l.v.ConfigFileUsed()
	if path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops
	// watches registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := l.Load()
				if err != nil {
					l.log.Warn("config reload failed", "error", err)
					continue
				}
				l.log.Info("config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// WriteStarter writes a commented starter config to path. Refuses to
// overwrite an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	starter := Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{Path: "codescope.db"},
		Logging:  LoggingConfig{Level: "info", Format: "auto"},
		Agent: AgentConfig{
			Type:           "gemini",
			TimeoutSeconds: 600,
			MaxRetries:     3,
			OutputFormat:   "stream-json",
		},
		Auth:   AuthConfig{TokenTTLHours: 24},
		Events: EventsConfig{BatchSize: 50, FlushIntervalMS: 2000},
	}

	encoded, err := yaml.Marshal(&starter)
	if err != nil {
		return err
	}
	header := []byte("# codescope server configuration.\n# Every key can be overridden with CODESCOPE_* environment variables.\n")
	return os.WriteFile(path, append(header, encoded...), 0o644)
}

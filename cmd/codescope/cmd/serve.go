package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codescope-ai/codescope/internal/api"
	"github.com/codescope-ai/codescope/internal/config"
	"github.com/codescope-ai/codescope/internal/core"
	"github.com/codescope-ai/codescope/internal/diagnostics"
	"github.com/codescope-ai/codescope/internal/logging"
	"github.com/codescope-ai/codescope/internal/msgstore"
	"github.com/codescope-ai/codescope/internal/orchestrator"
	"github.com/codescope-ai/codescope/internal/store"
)

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	bootstrapLog := logging.New(logging.Config{Level: "info", Format: "auto"})

	loader := config.NewLoader(flagConfig, bootstrapLog)
	if flagPort > 0 {
		loader.Set("server.port", flagPort)
	}
	if flagLogLevel != "" {
		loader.Set("logging.level", flagLogLevel)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	st, err := store.New(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer st.Close()

	events := msgstore.New(st, msgstore.Config{
		BatchSize:     cfg.Events.BatchSize,
		FlushInterval: cfg.Events.FlushInterval(),
	}, log)
	defer events.Close()

	orch := orchestrator.New(st, events, core.NewRunningAnalyses(),
		diagnostics.NewChecker(log), cfg.Agent.RunnerConfig(), log)

	// Agent settings follow the config file without a restart.
	stopWatch, err := loader.Watch(func(fresh *config.Config) {
		orch.SetAgentConfig(fresh.Agent.RunnerConfig())
	})
	if err != nil {
		log.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		log.Warn("auth.jwt_secret not set, using a random secret; tokens will not survive restarts")
	}

	auth := api.NewAuthenticator(secret, cfg.Auth.TokenTTL(), st)
	server := api.NewServer(api.Options{
		Store:       st,
		Events:      events,
		Orch:        orch,
		Auth:        auth,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("starting codescope", "addr", addr, "agent", cfg.Agent.Type)
	return server.Run(ctx, addr)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

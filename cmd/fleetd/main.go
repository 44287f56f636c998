package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetward/hub/internal/auth"
	"github.com/fleetward/hub/internal/config"
	"github.com/fleetward/hub/internal/server"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "fleetd",
		Short:   "fleetd is the fleet control plane server",
		Version: version,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the fleetd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := newLogger(cfg)
			server.Version = version

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			logger.Info("fleetd starting", "version", version)
			if err := srv.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("fleetd stopped")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "mint and inspect operator tokens"}

	var subject, role string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "mint an operator bearer token against FLEET_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("FLEET_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("FLEET_JWT_SECRET must be set to mint a token")
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}

			svc := auth.NewService(secret, ttl)
			tok, err := svc.IssueToken(subject, role)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "operator identifier embedded in the token")
	issue.Flags().StringVar(&role, "role", "operator", "role embedded in the token")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	token.AddCommand(issue)
	return token
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aiworker/internal/app"
	"aiworker/internal/config"
	"aiworker/internal/pubsub"
	"aiworker/pkg/types"
)

type serveOptions struct {
	configPath string
	host       string
	port       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "aiworker",
		Short: "WebSocket AI worker for document analysis and chat",
		Long: `aiworker serves document analysis and chat over a WebSocket endpoint.

Clients send JSON requests of type analyze, chat or ping and receive exactly
one envelope per request. Server-initiated broadcasts can be triggered over
HTTP or through a Redis channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("AIWORKER_CONFIG_FILE"), "path to a JSON config file")
	addServeFlags(rootCmd, opts)

	rootCmd.AddCommand(
		serveCmd(opts),
		broadcastCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", -1, "listen port (overrides config)")
}

func serveCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket and HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

// loadConfig applies flags on top of file > env > defaults
func loadConfig(opts *serveOptions) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.host != "" {
		cfg.HTTP.Host = opts.host
	}
	if opts.port >= 0 {
		cfg.HTTP.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("failed to start application: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- application.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("Received shutdown signal, shutting down gracefully")
	case runErr = <-waitErr:
		log.Printf("Application stopped unexpectedly: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}

func broadcastCmd(opts *serveOptions) *cobra.Command {
	var redisURL, channel string

	cmd := &cobra.Command{
		Use:   "broadcast <json>",
		Short: "Publish a broadcast to every running instance through Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if err := types.ValidateBroadcastPayload(payload); err != nil {
				return err
			}

			cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
			if err != nil {
				return err
			}
			if redisURL == "" {
				redisURL = cfg.Redis.URL
			}
			if channel == "" {
				channel = cfg.Redis.Channel
			}
			if redisURL == "" {
				return errors.New("no redis url: set --redis-url or AIWORKER_REDIS_URL")
			}

			client, err := pubsub.NewClient(redisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			receivers, err := pubsub.PublishBroadcast(ctx, client, channel, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Broadcast delivered to %d instance(s) on %s\n", receivers, channel)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "redis URL (defaults to config)")
	cmd.Flags().StringVar(&channel, "channel", "", "redis channel (defaults to config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aiworker %s\n", app.Version)
		},
	}
}

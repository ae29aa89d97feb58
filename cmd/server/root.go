package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/httpterm/internal/config"
	"github.com/remote-agent-terminal/httpterm/internal/logging"
	"github.com/remote-agent-terminal/httpterm/internal/server"
)

type flags struct {
	host        string
	port        int
	debug       bool
	multiplexer string
}

func newRootCmd() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "httpterm",
		Short: "Serve tmux-backed terminals over HTTP polling",
		Long: "httpterm attaches a pseudo-terminal to a tmux session for every session id a client " +
			"names, and exposes it through plain HTTP requests for input, output and resize.\n\n" +
			"Configuration is read from HTTPTERM_* environment variables; flags override them.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, f); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.Flags().StringVar(&f.host, "host", "", "listen host (default from HTTPTERM_SERVER_HOST)")
	rootCmd.Flags().IntVar(&f.port, "port", 0, "listen port (default from HTTPTERM_SERVER_PORT)")
	rootCmd.Flags().BoolVar(&f.debug, "debug", false, "development logging at debug level")
	rootCmd.Flags().StringVar(&f.multiplexer, "multiplexer", "", `session backend, "tmux" or "direct"`)

	return rootCmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f flags) error {
	fs := cmd.Flags()
	if fs.Changed("host") {
		cfg.Server.Host = f.host
	}
	if fs.Changed("port") {
		cfg.Server.Port = f.port
	}
	if fs.Changed("multiplexer") {
		cfg.Terminal.Multiplexer = f.multiplexer
	}
	if f.debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize server", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("Server stopped", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

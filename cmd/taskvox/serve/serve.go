package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/assembly"
	"github.com/papercomputeco/taskvox/pkg/config"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/server"
)

const serveLongDesc string = `Run the taskvox HTTP API.

Configuration is read from a TOML file (see --config) and the environment.
OPENAI_API_KEY supplies the key for the openai language model and speech
providers. When a config file is given it is watched, and changes to the
[conversation] section apply without a restart.

Examples:
  taskvox serve
  taskvox serve --config taskvox.toml --listen :9090`

const serveShortDesc string = "Run the HTTP API"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath string
	listen     string
	debug      bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides server.listen)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}
	if c.debug {
		cfg.Log.Debug = true
	}

	log := logger.NewLogger(cfg.Log.Debug, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := assembly.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("could not assemble service: %w", err)
	}
	defer stack.Close()

	srv, err := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		BodyLimit:  cfg.Server.BodyLimitMB << 20,
	}, server.Dependencies{
		Manager:     stack.Manager,
		Transcriber: stack.Transcriber,
		Synthesizer: stack.Synthesizer,
		Playback:    stack.Playback,
		Transcripts: stack.Transcripts,
		Collector:   stack.Collector,
	}, log)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	if c.configPath != "" {
		err := config.Watch(ctx, c.configPath, log, func(next *config.Config) {
			if err := stack.Reconfigure(next); err != nil {
				log.Warn("could not apply reloaded config", zap.Error(err))
			}
		})
		if err != nil {
			log.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	adminhttp "github.com/lexcounsel/memengine/internal/http"
	"github.com/lexcounsel/memengine/internal/secrets"
	"github.com/lexcounsel/memengine/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin server (health, readiness, status, metrics)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	rt, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	tel, err := telemetry.New(ctx, rt.cfg.Telemetry, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			rt.logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	}()

	scrubber, err := secrets.New(secrets.DefaultConfig())
	if err != nil {
		return err
	}
	server, err := adminhttp.NewServer(rt.engine, scrubber, rt.logger, &adminhttp.Config{
		Host:          rt.cfg.Admin.Host,
		Port:          rt.cfg.Admin.Port,
		MeterProvider: tel.MeterProvider(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Admin.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		rt.logger.Error(shutdownCtx, "admin server shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labcompare/push-scheduler/internal/config"
	"github.com/labcompare/push-scheduler/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "push-scheduler",
		Short:         "Scheduled push notifications and recurring journeys",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	var id string
	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Run a single scheduler cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), configPath, id)
		},
	}
	runOnce.Flags().StringVar(&id, "id", "", "Process only this notification id")
	root.AddCommand(runOnce)
	return root
}

func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func serve(ctx context.Context, path string) error {
	cfg, logger, err := setup(path)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		logger.Warn("scheduler disabled; only the API is running")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	a.scheduler.Stop(shutdownCtx)
	return nil
}

func runOnce(ctx context.Context, path, id string) error {
	cfg, logger, err := setup(path)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if id != "" {
		return a.scheduler.ProcessOne(ctx, id)
	}
	report, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}

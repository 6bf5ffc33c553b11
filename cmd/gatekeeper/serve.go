// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the account and session API together with the metrics and
health endpoints. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger, err := opts.logger(cmd, cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, nil)
		},
	}

	cmd.Flags().String("http.addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health listen address (empty = disabled)")

	return cmd
}

// readyFunc is told the bound API and metrics addresses once serving.
type readyFunc func(apiAddr, metricsAddr string)

// runServe serves until ctx is done or a server fails.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, onReady readyFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	obsServer := observability.NewServer(cfg.Metrics.Addr, ready.Load, logger)
	metrics := obsServer.Metrics()

	a, err := buildApp(ctx, cfg, logger, auth.WithRecorder(metrics))
	if err != nil {
		return err
	}
	defer a.close()

	if a.badger != nil {
		if err := a.badger.RegisterMetrics(obsServer.Registerer()); err != nil {
			return err
		}
	}

	sweeperDone := closedChan()
	if a.memory != nil {
		if err := metrics.RegisterActiveSessions(a.memory.Count); err != nil {
			return err
		}
		sweeperDone = a.memory.StartSweeper(ctx, cfg.Session.SweepInterval)
	}
	defer func() {
		cancel()
		<-sweeperDone
	}()

	handler := web.NewHandler(a.svc,
		web.WithLogger(logger),
		web.WithRecorder(metrics),
		web.WithRequestTimeout(cfg.HTTP.WriteTimeout))
	apiServer := web.NewServer(web.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, handler, logger)

	apiErrCh, err := apiServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	metricsAddr := ""
	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopServer(cfg, logger, "api", apiServer.Stop)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		metricsAddr = obsServer.Addr()
	}

	ready.Store(true)
	logger.Info("gatekeeper ready",
		"api_addr", apiServer.Addr(),
		"metrics_addr", metricsAddr,
		"store", cfg.Store.Backend,
		"sessions", cfg.Session.Backend,
		"validation", cfg.Validation.Provider)
	if onReady != nil {
		onReady(apiServer.Addr(), metricsAddr)
	}

	<-ctx.Done()
	ready.Store(false)
	logger.Info("shutting down")

	stopServer(cfg, logger, "api", apiServer.Stop)
	if metricsAddr != "" {
		stopServer(cfg, logger, "observability", obsServer.Stop)
	}

	logger.Info("shutdown complete")
	return nil
}

// stopServer calls stop with the configured shutdown timeout.
func stopServer(cfg *config.Config, logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It
// returns when errCh is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Command server runs the quantlab operations service: the in-memory
// operation registry, the live-status bridge against the remote training
// executor, and the HTTP/websocket transport over both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"quantlab/internal/config"
	"quantlab/internal/executor"
	"quantlab/internal/infrastructure"
	"quantlab/internal/operations"
	"quantlab/internal/services"
	transporthttp "quantlab/internal/transport/http"
	"quantlab/internal/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	enableTracing := flag.Bool("tracing", false, "emit traces to stdout")
	flag.Parse()

	if err := run(*configPath, *enableTracing); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, enableTracing bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLogs, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogs()

	providers, err := infrastructure.InitializeOTel(enableTracing, logger)
	if err != nil {
		return err
	}

	metrics, err := operations.NewMetrics(providers.Meter)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger)
	adapter := websocket.NewOperationsAdapter(hub, logger)

	registry := operations.NewRegistry(
		operations.WithLogger(logger),
		operations.WithBroadcaster(adapter),
		operations.WithMetrics(metrics),
	)

	executorClient := executor.NewClient(executor.Config{
		BaseURL: cfg.Executor.BaseURL,
		Token:   cfg.Executor.Token,
		Timeout: cfg.Executor.Timeout,
	})
	bridge := operations.NewBridge(registry, executorClient, operations.BridgeConfig{
		PollInterval:     cfg.Bridge.PollInterval,
		FetchTimeout:     cfg.Bridge.FetchTimeout,
		MaxFetchFailures: cfg.Bridge.MaxFetchFailures,
	}, logger)

	service := services.NewOperationsService(registry, bridge, logger)
	handler := transporthttp.NewOperationsHandler(service, logger)

	router := transporthttp.NewRouter(transporthttp.RouterDeps{
		Operations: handler,
		WebSocket:  websocket.ServeWS(hub, cfg.WebSocket, logger),
		Metrics:    providers.PrometheusHTTP,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run()
	bridge.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("server_listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("executor", cfg.Executor.BaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown_started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		bridge.Stop()
		hub.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel_shutdown_failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}

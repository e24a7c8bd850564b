package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/backend"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/httpserver"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/app"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/config"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/logging"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/version"
)

func runGracefulShutdown(srv *httpserver.Server, registry *app.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		registry.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBackend(cfg *config.Config, backendMetrics *metrics.BackendMetrics) *backend.Client {
	retryPolicy := backend.DefaultRetryPolicy
	retryPolicy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Debug("Retrying vote fetch", "attempt", attempt, "backoff", backoff, "error", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:              cfg.BackendURL,
		FetchTimeout:         cfg.FetchTimeout,
		SubmitTimeout:        cfg.SubmitTimeout,
		Retry:                retryPolicy,
		OnBreakerStateChange: backendMetrics.SetBreakerState,
	})
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Version,
		"backend_url", cfg.BackendURL,
	)

	reg := metrics.NewRegistry()
	votingMetrics := metrics.NewVotingMetrics(reg)
	backendMetrics := metrics.NewBackendMetrics(reg)

	backendClient := setupBackend(cfg, backendMetrics)

	registry := app.NewRegistry(backendClient, clock, votingMetrics, app.RegistryConfig{
		Session: app.SessionConfig{
			RefreshInterval:   cfg.RefreshInterval,
			CountdownInterval: cfg.CountdownInterval,
		},
		IdleTTL:        cfg.SessionIdleTTL,
		MaxConnections: cfg.MaxWebSocketConnections,
	}, votingMetrics.SetActiveSessions)

	healthChecks := []httpserver.HealthCheck{
		{
			Name: "vote_backend",
			Check: func(_ context.Context) error {
				if state := backendClient.BreakerState(); state == "open" {
					return fmt.Errorf("circuit breaker %s", state)
				}
				return nil
			},
		},
	}

	srv := httpserver.NewServer(cfg, registry, clock, reg, healthChecks)

	done := runGracefulShutdown(srv, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	wsstream "github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/websocket"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/app"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/config"
)

// viewerSessions is the slice of app.Registry the handlers need.
type viewerSessions interface {
	Session(token string) (*app.Session, error)
	Acquire(token string) (*app.Session, error)
	Release(token string)
	Len() int
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	sessions viewerSessions
	upgrader websocket.Upgrader

	metricsRegistry *prometheus.Registry
	apiMetrics      *metrics.APIMetrics
	wsMetrics       *metrics.WebSocketMetrics

	// streamCtx ends every live WebSocket stream on shutdown; hijacked
	// connections are not tracked by http.Server.Shutdown.
	streamCtx    context.Context
	cancelStream context.CancelFunc

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP API. reg may be nil, in which case no metrics are
// recorded or served.
func NewServer(cfg *config.Config, sessions viewerSessions, clock clockwork.Clock, reg *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	streamCtx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		echo:     e,
		config:   cfg,
		clock:    clock,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     wsstream.NewCheckOrigin(cfg.FrontendURL, cfg.AppEnv == "development"),
		},
		metricsRegistry: reg,
		streamCtx:       streamCtx,
		cancelStream:    cancel,
		healthChecks:    healthChecks,
		startTime:       clock.Now(),
	}
	if reg != nil {
		srv.apiMetrics = metrics.NewAPIMetrics(reg)
		srv.wsMetrics = metrics.NewWebSocketMetrics(reg)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelStream()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check, such as the vote backend's
// circuit breaker.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type livenessResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime"`
	Sessions int     `json:"sessions"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	if s.metricsRegistry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.metricsRegistry)))
	}
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeHealth(c, s.runHealthChecks(ctx))
}

// handleLiveness never depends on the vote backend; an unreachable backend
// degrades views to stale, it does not make the process unhealthy.
func (s *Server) handleLiveness(c echo.Context) error {
	response := livenessResponse{
		Status:   "ok",
		Uptime:   s.clock.Since(s.startTime).Seconds(),
		Sessions: s.sessions.Len(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.writeHealth(c, s.runHealthChecks(ctx))
}

// runHealthChecks runs every check and reports each by name, "ok" or the
// failure text.
func (s *Server) runHealthChecks(ctx context.Context) healthResponse {
	response := healthResponse{Status: "ready"}
	if len(s.healthChecks) == 0 {
		return response
	}

	response.Checks = make(map[string]string, len(s.healthChecks))
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks[hc.Name] = err.Error()
			continue
		}
		response.Checks[hc.Name] = "ok"
	}
	return response
}

func (s *Server) writeHealth(c echo.Context, response healthResponse) error {
	status := http.StatusOK
	if response.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}

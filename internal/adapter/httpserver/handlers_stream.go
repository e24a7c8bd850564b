package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	wsstream "github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/websocket"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/app"
	apperrors "github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/errors"
)

func (s *Server) registerStreamRoutes() {
	s.echo.GET("/ws/voting", s.handleVotingStream)
}

// handleVotingStream upgrades to a WebSocket and pushes the viewer's view
// after every change until either side goes away. Browsers cannot set
// headers on WebSocket requests, so the token travels as a query parameter.
func (s *Server) handleVotingStream(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = bearerToken(c.Request())
	}
	if token == "" {
		return apperrors.UnauthorizedError("missing viewer token")
	}
	viewer := app.ViewerKey(token)
	c.Set(viewerKey, viewer)

	sess, err := s.sessions.Acquire(token)
	if err != nil {
		return toAppError(err)
	}
	defer s.sessions.Release(token)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		slog.InfoContext(c.Request().Context(), "WebSocket upgrade failed", "viewer", viewer, "error", err)
		return nil
	}

	updates, cancel := sess.Subscribe()
	defer cancel()

	slog.DebugContext(c.Request().Context(), "View stream opened", "viewer", viewer)
	if err := wsstream.NewStream(conn, s.clock, s.wsMetrics).Serve(s.streamCtx, updates); err != nil {
		slog.DebugContext(c.Request().Context(), "View stream ended", "viewer", viewer, "error", err)
		return nil
	}
	slog.DebugContext(c.Request().Context(), "View stream closed", "viewer", viewer)
	return nil
}

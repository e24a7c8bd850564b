package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/app"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	apperrors "github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/errors"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/voting"
)

type submitVoteRequest struct {
	CandidateID string `json:"candidateId"`
	CategoryID  string `json:"categoryId"`
}

func (s *Server) registerVotingRoutes() {
	api := s.echo.Group("/api/voting", requireViewer)
	api.GET("", s.handleGetView)
	api.POST("/votes", s.handleSubmitVote)
	api.POST("/refresh", s.handleRefresh, newRateLimiter(s.config.RefreshRateLimit, s.config.RefreshRateBurst))
}

func (s *Server) viewerSession(c echo.Context) (*app.Session, error) {
	token, ok := c.Get(viewerTokenKey).(string)
	if !ok {
		return nil, apperrors.InternalError("missing viewer token in context", nil)
	}
	sess, err := s.sessions.Session(token)
	if err != nil {
		return nil, toAppError(err)
	}
	return sess, nil
}

// handleGetView returns the viewer's current view. A session that has not
// loaded yet is refreshed first, so callers never see "not_loaded" unless the
// backend is unreachable.
func (s *Server) handleGetView(c echo.Context) error {
	sess, err := s.viewerSession(c)
	if err != nil {
		return err
	}

	if err := ensureLoaded(c, sess); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sess.View()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// ensureLoaded waits for the first snapshot of a freshly created session.
// The fetch collapses with the one the session issued on start.
func ensureLoaded(c echo.Context, sess *app.Session) error {
	if sess.Loaded() {
		return nil
	}
	if _, err := sess.Refresh(c.Request().Context(), voting.TriggerInitial); err != nil && !sess.Loaded() {
		return toAppError(err)
	}
	return nil
}

func (s *Server) handleSubmitVote(c echo.Context) error {
	var req submitVoteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithCode("INVALID_BODY")
	}
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if req.CandidateID == "" {
		return apperrors.ValidationError("candidateId is required").WithField("field", "candidateId")
	}
	if req.CategoryID == "" {
		return apperrors.ValidationError("categoryId is required").WithField("field", "categoryId")
	}

	sess, err := s.viewerSession(c)
	if err != nil {
		return err
	}
	if err := ensureLoaded(c, sess); err != nil {
		return err
	}

	if err := sess.Submit(c.Request().Context(), req.CandidateID, req.CategoryID); err != nil {
		return toAppError(err).
			WithField("candidate_id", req.CandidateID).
			WithField("category_id", req.CategoryID)
	}

	metrics.SetOutcome(c, "accepted")
	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

// handleRefresh fetches fresh data on the viewer's request. A failed fetch
// over an existing snapshot is not an error: the view reports itself stale.
func (s *Server) handleRefresh(c echo.Context) error {
	sess, err := s.viewerSession(c)
	if err != nil {
		return err
	}

	view, err := sess.Refresh(c.Request().Context(), voting.TriggerUser)
	if err != nil {
		if view.Status == voting.StatusNotLoaded {
			return toAppError(err)
		}
		metrics.SetOutcome(c, "stale")
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// toAppError maps voting and session errors onto HTTP-facing errors.
func toAppError(err error) *apperrors.Error {
	var rejected *domain.RejectedError
	var network *domain.NetworkError

	switch {
	case errors.Is(err, domain.ErrUnknownCandidate):
		return apperrors.ValidationError(err.Error()).WithCode("UNKNOWN_CANDIDATE")
	case errors.Is(err, domain.ErrAlreadyVoted):
		return apperrors.ConflictError(err.Error(), nil).WithCode("ALREADY_VOTED")
	case errors.Is(err, domain.ErrSubmissionInProgress):
		return apperrors.ConflictError(err.Error(), nil).WithCode("SUBMISSION_IN_PROGRESS")
	case errors.Is(err, domain.ErrNoActiveEdition):
		return apperrors.ConflictError(domain.ErrNoActiveEdition.Error(), nil).WithCode("NO_ACTIVE_EDITION")
	case errors.Is(err, domain.ErrVotingNotOpen):
		return apperrors.ConflictError(err.Error(), nil).WithCode("VOTING_NOT_OPEN")
	case errors.Is(err, domain.ErrNotLoaded):
		return apperrors.ConflictError(err.Error(), nil).WithCode("NOT_LOADED")
	case errors.As(err, &rejected):
		return apperrors.RejectedError(rejected.Code, rejected.Error(), err)
	case errors.As(err, &network):
		return apperrors.ExternalError("vote backend unavailable", err)
	case errors.Is(err, app.ErrTooManyConnections):
		return apperrors.ConflictError(err.Error(), nil).WithCode("TOO_MANY_CONNECTIONS")
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, app.ErrRegistryStopped):
		return apperrors.ExternalError("voting session unavailable", err)
	default:
		return apperrors.AsStructuredError(err)
	}
}

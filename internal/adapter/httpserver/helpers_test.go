package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/metrics"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/app"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/config"
)

const testToken = "viewer-token"

var epoch = time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type stubBackend struct {
	mu        sync.Mutex
	snap      *domain.VoteSnapshot
	fetchErr  error
	submitErr error
	fetches   int
	intents   []domain.VoteIntent
}

func (b *stubBackend) FetchVotes(_ context.Context) (*domain.VoteSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.snap, nil
}

// SubmitVote counts accepted votes like the real backend would, so the
// reconcile fetch agrees with the optimistic update.
func (b *stubBackend) SubmitVote(_ context.Context, intent domain.VoteIntent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intents = append(b.intents, intent)
	if b.submitErr != nil {
		return b.submitErr
	}
	if next, err := b.snap.WithVote(intent.CategoryID, intent.CandidateID); err == nil {
		b.snap = next
	}
	return nil
}

func (b *stubBackend) getIntents() []domain.VoteIntent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.VoteIntent(nil), b.intents...)
}

func (b *stubBackend) getFetches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

type stubProvider struct {
	mu      sync.Mutex
	backend *stubBackend
	tokens  []string
}

func (p *stubProvider) ForViewer(token string) domain.VotingBackend {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
	return p.backend
}

// --- Fixtures ---

func snapshotIn(phase domain.Phase, aVoted bool) *domain.VoteSnapshot {
	var deadline *time.Time
	if phase.Counting() {
		d := epoch.Add(time.Hour)
		deadline = &d
	}
	return &domain.VoteSnapshot{
		Edition: &domain.Edition{
			ID:             "2025",
			Name:           "Show Us Your Talent",
			Year:           2025,
			VotePhase:      phase,
			VotingDeadline: deadline,
		},
		Categories: []domain.Category{{
			ID:         "singing",
			Name:       "Chant",
			Position:   1,
			TotalVotes: 15,
			Candidates: []domain.Candidate{
				{ID: "a", DisplayName: "Awa", VoteCount: 10, HasCurrentUserVoted: aVoted},
				{ID: "b", DisplayName: "Koffi", VoteCount: 5},
			},
		}},
		TotalVotes: 15,
	}
}

type testEnv struct {
	srv      *Server
	backend  *stubBackend
	provider *stubProvider
	registry *app.Registry
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T, snap *domain.VoteSnapshot, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	backend := &stubBackend{snap: snap}
	provider := &stubProvider{backend: backend}
	clock := clockwork.NewFakeClockAt(epoch)
	registry := app.NewRegistry(provider, clock, nil, app.RegistryConfig{}, nil)
	t.Cleanup(registry.Stop)

	cfg := &config.Config{
		AppEnv:                  "test",
		RefreshRateLimit:        100,
		RefreshRateBurst:        100,
		MaxWebSocketConnections: 10,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	srv := NewServer(cfg, registry, clock, metrics.NewRegistry(), nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{
		srv:      srv,
		backend:  backend,
		provider: provider,
		registry: registry,
		clock:    clock,
	}
}

func (e *testEnv) do(method, path, body string, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.echo.ServeHTTP(rec, req)
	return rec
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false))
	for _, opt := range opts {
		opt(env.srv)
	}
	return env.srv
}

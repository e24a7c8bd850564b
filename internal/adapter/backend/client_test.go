package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/correlation"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const livePayload = `{
	"edition": {
		"id": 7,
		"name": "Show Us Your Talent",
		"year": 2025,
		"votePhase": "OPEN",
		"votingDeadline": "2025-06-14T21:00:00Z"
	},
	"categories": [
		{
			"id": "singing",
			"name": "Chant",
			"totalVotesInCategory": 15,
			"candidates": [
				{"id": 1, "displayName": "Awa", "voteCount": 10, "hasCurrentUserVoted": false},
				{"id": "2", "displayName": "Koffi", "voteCount": 5, "hasCurrentUserVoted": true}
			]
		},
		{
			"id": "dance",
			"name": "Danse",
			"position": 1,
			"candidates": [
				{"id": 3, "displayName": "Yao", "voteCount": 4}
			]
		}
	],
	"totalVotes": 19
}`

var fastRetry = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   time.Millisecond,
	RateLimitBackoff: time.Millisecond,
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:       srv.URL,
		FetchTimeout:  time.Second,
		SubmitTimeout: time.Second,
		Retry:         fastRetry,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/api"})
	require.Error(t, err)
}

func TestFetchVotes_ParsesPayload(t *testing.T) {
	var gotAuth, gotPath, gotCorrelation string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotCorrelation = r.Header.Get(correlation.Header)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(livePayload))
	})

	ctx := correlation.WithID(context.Background(), "abcd1234")
	snap, err := c.ForViewer("viewer-token").FetchVotes(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Bearer viewer-token", gotAuth)
	assert.Equal(t, "/api/votes/live", gotPath)
	assert.Equal(t, "abcd1234", gotCorrelation)

	require.NotNil(t, snap.Edition)
	assert.Equal(t, "7", snap.Edition.ID)
	assert.Equal(t, domain.PhaseOpen, snap.Edition.VotePhase)
	require.NotNil(t, snap.Edition.VotingDeadline)
	assert.True(t, snap.Edition.VotingDeadline.Equal(time.Date(2025, 6, 14, 21, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(19), snap.TotalVotes)

	require.Len(t, snap.Categories, 2)
	singing := snap.Categories[0]
	assert.Equal(t, 1, singing.Position)
	assert.Equal(t, int64(15), singing.TotalVotes)
	assert.Equal(t, "1", singing.Candidates[0].ID)
	assert.Equal(t, "2", singing.Candidates[1].ID)
	assert.True(t, singing.Candidates[1].HasCurrentUserVoted)

	dance := snap.Categories[1]
	assert.Equal(t, 1, dance.Position)
	assert.Equal(t, int64(4), dance.TotalVotes, "falls back to the candidate sum")
}

func TestFetchVotes_NullEdition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"edition": null, "categories": [], "totalVotes": 0}`))
	})

	snap, err := c.ForViewer("t").FetchVotes(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Edition)
	assert.Empty(t, snap.Categories)
}

func TestFetchVotes_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown phase", `{"edition": {"id": 1, "votePhase": "PAUSED"}, "categories": []}`},
		{"negative count", `{"categories": [{"id": 1, "candidates": [{"id": 1, "voteCount": -1}]}]}`},
		{"fractional id", `{"categories": [{"id": 1.5, "candidates": []}]}`},
		{"not json", `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.ForViewer("t").FetchVotes(context.Background())
			var network *domain.NetworkError
			assert.ErrorAs(t, err, &network)
		})
	}
}

func TestFetchVotes_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(livePayload))
	})

	snap, err := c.ForViewer("t").FetchVotes(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchVotes_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(livePayload))
	})

	_, err := c.ForViewer("t").FetchVotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchVotes_DoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": "UNAUTHENTICATED", "message": "Session expirée"}`))
	})

	_, err := c.ForViewer("t").FetchVotes(context.Background())

	var rejected *domain.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "UNAUTHENTICATED", rejected.Code)
	assert.Equal(t, "Session expirée", rejected.Message)
	assert.Equal(t, int32(1), calls.Load())

	var permanent *retry.PermanentError
	assert.False(t, errors.As(err, &permanent), "permanent wrapper is stripped")
}

func TestFetchVotes_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ForViewer("t").FetchVotes(context.Background())

	var network *domain.NetworkError
	require.ErrorAs(t, err, &network)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadGateway, status.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitVote_SendsIntent(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    submitVoteRequest
		method  string
		path    string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		method = r.Method
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	})

	intent := domain.NewVoteIntent("2", "singing", time.Now())
	err := c.ForViewer("viewer-token").SubmitVote(context.Background(), intent)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/votes", path)
	assert.Equal(t, "Bearer viewer-token", headers.Get("Authorization"))
	assert.Equal(t, intent.ID.String(), headers.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Contains(t, headers.Get("User-Agent"), "talentvote/")
	assert.Equal(t, submitVoteRequest{CandidateID: "2", CategoryID: "singing"}, body)
}

func TestSubmitVote_RejectionPassesMessageThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code": "CATEGORY_LIMIT", "message": "Vous avez déjà voté dans cette catégorie."}`))
	})

	err := c.ForViewer("t").SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))

	var rejected *domain.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "CATEGORY_LIMIT", rejected.Code)
	assert.Equal(t, "Vous avez déjà voté dans cette catégorie.", rejected.Error())
}

func TestSubmitVote_RejectionWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := c.ForViewer("t").SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))

	var rejected *domain.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "HTTP_403", rejected.Code)
	assert.Equal(t, "Forbidden", rejected.Message)
}

func TestSubmitVote_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.ForViewer("t").SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))

	var network *domain.NetworkError
	require.ErrorAs(t, err, &network)
	assert.Equal(t, "submit vote", network.Op)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitVote_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *Config) {
		cfg.SubmitTimeout = 20 * time.Millisecond
	})
	defer close(release)

	err := c.ForViewer("t").SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))

	var network *domain.NetworkError
	require.ErrorAs(t, err, &network)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	var (
		mu     sync.Mutex
		states []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) {
		cfg.FailureThreshold = 3
		cfg.BreakerDelay = time.Hour
		cfg.Retry = retry.Policy{MaxAttempts: 1}
		cfg.OnBreakerStateChange = func(state string) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		}
	})
	viewer := c.ForViewer("t")

	for rangeIdx := 0; rangeIdx < 3; rangeIdx++ {
		_, err := viewer.FetchVotes(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := viewer.FetchVotes(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(3), calls.Load(), "open breaker short-circuits")

	err = viewer.SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))
	var network *domain.NetworkError
	assert.ErrorAs(t, err, &network)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"open"}, states)
}

func TestBreaker_RejectionsDoNotTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}, func(cfg *Config) {
		cfg.FailureThreshold = 2
	})

	for rangeIdx := 0; rangeIdx < 5; rangeIdx++ {
		err := c.ForViewer("t").SubmitVote(context.Background(), domain.NewVoteIntent("2", "singing", time.Now()))
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

// cancelledFetch runs one fetch that the caller abandons once the server has
// received it.
func cancelledFetch(t *testing.T, viewer domain.VotingBackend, started <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	_, err := viewer.FetchVotes(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBreaker_CancellationIsNeutralWhileClosed(t *testing.T) {
	var hang atomic.Bool
	started := make(chan struct{}, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hang.Load() {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) {
		cfg.FailureThreshold = 3
		cfg.BreakerDelay = time.Hour
		cfg.Retry = retry.Policy{MaxAttempts: 1}
	})
	viewer := c.ForViewer("t")

	for rangeIdx := 0; rangeIdx < 2; rangeIdx++ {
		_, err := viewer.FetchVotes(context.Background())
		require.Error(t, err)
	}

	hang.Store(true)
	cancelledFetch(t, viewer, started)
	hang.Store(false)
	assert.Equal(t, "closed", c.BreakerState())

	_, err := viewer.FetchVotes(context.Background())
	require.Error(t, err)
	assert.Equal(t, "open", c.BreakerState(), "the cancellation did not reset the failure streak")
}

func TestBreaker_CancelledProbeDoesNotClose(t *testing.T) {
	var hang atomic.Bool
	started := make(chan struct{}, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hang.Load() {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) {
		cfg.FailureThreshold = 1
		cfg.BreakerDelay = 20 * time.Millisecond
		cfg.Retry = retry.Policy{MaxAttempts: 1}
	})
	viewer := c.ForViewer("t")

	_, err := viewer.FetchVotes(context.Background())
	require.Error(t, err)
	require.Equal(t, "open", c.BreakerState())

	time.Sleep(50 * time.Millisecond)

	hang.Store(true)
	cancelledFetch(t, viewer, started)

	assert.NotEqual(t, "closed", c.BreakerState())
}

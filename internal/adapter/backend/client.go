package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/correlation"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/retry"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/version"
)

const (
	liveVotesPath   = "api/votes/live"
	submitVotePath  = "api/votes"
	maxResponseSize = 1 << 20

	defaultFetchTimeout     = 5 * time.Second
	defaultSubmitTimeout    = 10 * time.Second
	defaultFailureThreshold = 5
	defaultBreakerDelay     = 30 * time.Second
)

// DefaultRetryPolicy is applied to fetches only; submissions are never retried.
var DefaultRetryPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   200 * time.Millisecond,
	MaxBackoff:       2 * time.Second,
	RateLimitBackoff: 2 * time.Second,
}

type Config struct {
	BaseURL       string
	FetchTimeout  time.Duration
	SubmitTimeout time.Duration
	Retry         retry.Policy
	// FailureThreshold consecutive transport failures open the breaker.
	FailureThreshold uint
	BreakerDelay     time.Duration
	// OnBreakerStateChange receives "closed", "half-open" or "open".
	OnBreakerStateChange func(state string)
	HTTPClient           *http.Client
}

// StatusError is an unexpected HTTP status from the vote backend.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Client talks to the competition REST API. It is shared by all viewers;
// ForViewer binds a viewer's bearer token. All calls go through one circuit
// breaker so a failing backend is not hammered by every session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	cfg     Config
	breaker circuitbreaker.CircuitBreaker[any]
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend URL must be absolute: %q", cfg.BaseURL)
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = defaultBreakerDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL: base,
		http:    httpClient,
		cfg:     cfg,
	}
	c.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "vote_backend",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if cfg.OnBreakerStateChange != nil {
				cfg.OnBreakerStateChange(stateName(e.NewState))
			}
		}).
		Build()

	return c, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerState reports the circuit breaker state for health checks.
func (c *Client) BreakerState() string {
	return stateName(c.breaker.State())
}

// ForViewer returns the backend as seen by one viewer.
func (c *Client) ForViewer(token string) domain.VotingBackend {
	return &ViewerClient{client: c, token: token}
}

// ViewerClient implements domain.VotingBackend for a single viewer token.
type ViewerClient struct {
	client *Client
	token  string
}

func (v *ViewerClient) FetchVotes(ctx context.Context) (*domain.VoteSnapshot, error) {
	snap, err := retry.Do(ctx, v.client.cfg.Retry, classifyFetchError, v.fetchOnce)
	if err != nil {
		var permanent *retry.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}
	return snap, nil
}

func (v *ViewerClient) fetchOnce(ctx context.Context) (*domain.VoteSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, v.client.cfg.FetchTimeout)
	defer cancel()

	req, err := v.newRequest(ctx, http.MethodGet, liveVotesPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "fetch votes", Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.NetworkError{Op: "fetch votes", Err: &StatusError{Status: resp.StatusCode}}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusToError("fetch votes", resp)
	}

	var payload liveVotesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return nil, &domain.NetworkError{Op: "fetch votes", Err: fmt.Errorf("decode response: %w", err)}
	}

	snap, err := payload.toDomain()
	if err != nil {
		return nil, &domain.NetworkError{Op: "fetch votes", Err: fmt.Errorf("invalid response: %w", err)}
	}
	return snap, nil
}

// SubmitVote posts the intent once. The intent ID is the idempotency key.
func (v *ViewerClient) SubmitVote(ctx context.Context, intent domain.VoteIntent) error {
	ctx, cancel := context.WithTimeout(ctx, v.client.cfg.SubmitTimeout)
	defer cancel()

	body, err := json.Marshal(submitVoteRequest{
		CandidateID: intent.CandidateID,
		CategoryID:  intent.CategoryID,
	})
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}

	req, err := v.newRequest(ctx, http.MethodPost, submitVotePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", intent.ID.String())

	resp, err := v.client.do(req)
	if err != nil {
		return &domain.NetworkError{Op: "submit vote", Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusToError("submit vote", resp)
}

func (v *ViewerClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, v.client.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if v.token != "" {
		req.Header.Set("Authorization", "Bearer "+v.token)
	}
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set(correlation.Header, id)
	}
	return req, nil
}

// do executes req behind the circuit breaker. Only transport failures and
// 5xx responses count against the backend. A request cancelled by its caller
// says nothing about the backend: it is not recorded while closed, and a
// cancelled half-open probe reopens the breaker rather than closing it.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if !c.breaker.TryAcquirePermit() {
		return nil, circuitbreaker.ErrOpen
	}
	probing := c.breaker.State() == circuitbreaker.HalfOpenState

	resp, err := c.http.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) || probing {
			c.breaker.RecordError(err)
		}
		return nil, err
	}
	if resp.StatusCode >= 500 {
		c.breaker.RecordError(&StatusError{Status: resp.StatusCode})
	} else {
		c.breaker.RecordSuccess()
	}
	return resp, nil
}

// statusToError maps a non-success response: a 4xx is a business rejection
// whose message is passed through, anything else is a transport failure.
func statusToError(op string, resp *http.Response) error {
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return &domain.NetworkError{Op: op, Err: &StatusError{Status: resp.StatusCode}}
	}

	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil || (body.Code == "" && body.Message == "") {
		return &domain.RejectedError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: http.StatusText(resp.StatusCode),
		}
	}
	return &domain.RejectedError{Code: body.Code, Message: body.Message}
}

func classifyFetchError(err error) retry.Action {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return retry.Stop
	}

	if errors.Is(err, context.Canceled) {
		return retry.Stop
	}

	var rejected *domain.RejectedError
	if errors.As(err, &rejected) {
		return retry.Stop
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch status.Status {
		case http.StatusTooManyRequests:
			return retry.After
		case http.StatusNotImplemented:
			return retry.Stop
		}
	}
	return retry.Retry
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseSize))
	_ = body.Close()
}

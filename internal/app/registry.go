package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/voting"
)

const (
	defaultIdleTTL        = 2 * time.Minute
	defaultMaxConnections = 10
	minSweepInterval      = time.Second
)

var (
	ErrTooManyConnections = errors.New("too many live connections for this viewer")
	ErrRegistryStopped    = errors.New("session registry stopped")
)

type RegistryConfig struct {
	Session SessionConfig
	// IdleTTL is how long a session without live connections is kept.
	IdleTTL        time.Duration
	MaxConnections int
}

type registryEntry struct {
	session  *Session
	conns    int
	lastUsed time.Time
}

// Registry keeps one Session per viewer token. Sessions are created on first
// use and torn down once they had no live connection for IdleTTL.
type Registry struct {
	backends domain.BackendProvider
	clock    clockwork.Clock
	recorder voting.Recorder
	cfg      RegistryConfig
	onCount  func(int)

	mu      sync.Mutex
	entries map[string]*registryEntry
	stopped bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts the idle sweep. onCount, if set, receives the number
// of live sessions whenever it changes.
func NewRegistry(backends domain.BackendProvider, clock clockwork.Clock, recorder voting.Recorder, cfg RegistryConfig, onCount func(int)) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}

	r := &Registry{
		backends: backends,
		clock:    clock,
		recorder: recorder,
		cfg:      cfg,
		onCount:  onCount,
		entries:  make(map[string]*registryEntry),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Session returns the viewer's session, creating it if needed.
func (r *Registry) Session(token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.entryLocked(token)
	if err != nil {
		return nil, err
	}
	e.lastUsed = r.clock.Now()
	return e.session, nil
}

// Acquire is Session for a live connection: the session is pinned until the
// matching Release.
func (r *Registry) Acquire(token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.entryLocked(token)
	if err != nil {
		return nil, err
	}
	if e.conns >= r.cfg.MaxConnections {
		slog.Warn("Rejecting connection: max connections reached", "viewer", ViewerKey(token), "max_connections", r.cfg.MaxConnections)
		return nil, fmt.Errorf("%w (%d)", ErrTooManyConnections, r.cfg.MaxConnections)
	}
	e.conns++
	e.lastUsed = r.clock.Now()
	return e.session, nil
}

func (r *Registry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok || e.conns == 0 {
		return
	}
	e.conns--
	e.lastUsed = r.clock.Now()
	if e.conns == 0 {
		slog.Debug("Last connection closed, session idle", "viewer", ViewerKey(token))
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop closes every session. The registry cannot be used afterwards.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.done

		r.mu.Lock()
		r.stopped = true
		sessions := make([]*Session, 0, len(r.entries))
		for _, e := range r.entries {
			sessions = append(sessions, e.session)
		}
		clear(r.entries)
		r.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}
		r.reportCount(0)
		slog.Info("Session registry stopped", "sessions_closed", len(sessions))
	})
}

func (r *Registry) entryLocked(token string) (*registryEntry, error) {
	if r.stopped {
		return nil, ErrRegistryStopped
	}
	if e, ok := r.entries[token]; ok {
		return e, nil
	}

	viewer := ViewerKey(token)
	e := &registryEntry{
		session:  NewSession(r.backends.ForViewer(token), viewer, r.clock, r.recorder, r.cfg.Session),
		lastUsed: r.clock.Now(),
	}
	r.entries[token] = e
	r.reportCount(len(r.entries))
	slog.Info("Voting session started", "viewer", viewer)
	return e, nil
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	interval := max(r.cfg.IdleTTL/2, minSweepInterval)
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

// sweep closes sessions that have been idle for at least IdleTTL.
func (r *Registry) sweep() {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*Session
	for token, e := range r.entries {
		if e.conns > 0 || now.Sub(e.lastUsed) < r.cfg.IdleTTL {
			continue
		}
		expired = append(expired, e.session)
		delete(r.entries, token)
		slog.Info("Closing idle voting session", "viewer", e.session.viewer, "idle", now.Sub(e.lastUsed).String())
	}
	count := len(r.entries)
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, s := range expired {
		s.Close()
	}
	r.reportCount(count)
}

func (r *Registry) reportCount(n int) {
	if r.onCount != nil {
		r.onCount(n)
	}
}

// ViewerKey is a short stable identifier for a viewer token that is safe to
// put in logs.
func ViewerKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

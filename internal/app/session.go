package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/correlation"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/voting"
)

const (
	defaultRefreshInterval   = 30 * time.Second
	defaultCountdownInterval = 1 * time.Second
)

type SessionConfig struct {
	RefreshInterval   time.Duration
	CountdownInterval time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = defaultCountdownInterval
	}
	return c
}

// Session is one viewer's live voting state. It owns the snapshot store,
// the submission coordinator and the phase clock, and runs a single loop
// that serializes timer ticks and snapshot changes.
//
// Close tears everything down: timers stop, subscribers are released and
// late fetch or submission results are no longer published.
type Session struct {
	viewer   string
	store    *voting.SnapshotStore
	coord    *voting.Coordinator
	phase    *voting.PhaseClock
	clock    clockwork.Clock
	recorder voting.Recorder
	cfg      SessionConfig

	changed  chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	subMu  sync.Mutex
	subs   map[chan voting.View]struct{}
	closed bool
}

// NewSession starts a session against backend. viewer is only used to tag
// log lines. The first fetch is issued immediately.
func NewSession(backend domain.VotingBackend, viewer string, clock clockwork.Clock, recorder voting.Recorder, cfg SessionConfig) *Session {
	if recorder == nil {
		recorder = voting.NopRecorder{}
	}

	s := &Session{
		viewer:   viewer,
		phase:    voting.NewPhaseClock(),
		clock:    clock,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		changed:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[chan voting.View]struct{}),
	}
	s.store = voting.NewSnapshotStore(backend, clock, recorder, s.markChanged)
	s.coord = voting.NewCoordinator(s.store, backend, clock, recorder)

	go s.run()
	return s
}

// View renders the current state. The countdown is computed against the
// clock at call time.
func (s *Session) View() voting.View {
	state := s.store.State()
	var edition *domain.Edition
	if state.Snapshot != nil {
		edition = state.Snapshot.Edition
	}
	return voting.BuildView(state, voting.DerivePhase(edition, s.clock.Now()), s.coord.InFlight())
}

// Loaded reports whether a snapshot has been fetched at least once.
func (s *Session) Loaded() bool {
	return s.store.Current() != nil
}

// Refresh fetches fresh vote data on behalf of a caller and returns the
// resulting view. On failure the view still carries the last good snapshot.
func (s *Session) Refresh(ctx context.Context, trigger string) (voting.View, error) {
	s.recorder.RefreshRequested(trigger)
	ctx, _ = correlation.Ensure(ctx)
	_, err := s.store.Refresh(ctx)
	if err != nil {
		slog.DebugContext(ctx, "Vote data refresh failed", "viewer", s.viewer, "trigger", trigger, "error", err)
		s.markChanged()
	}
	return s.View(), err
}

// Submit casts a vote. See voting.Coordinator for the protocol.
func (s *Session) Submit(ctx context.Context, candidateID, categoryID string) error {
	err := s.coord.Submit(ctx, candidateID, categoryID)
	// The submitting flag flipped back; subscribers need a fresh view even
	// when the snapshot itself did not change.
	s.markChanged()
	return err
}

// Subscribe returns a channel receiving the latest view after every change.
// A slow reader only ever misses intermediate views. The channel is closed
// by cancel or when the session closes.
func (s *Session) Subscribe() (<-chan voting.View, func()) {
	ch := make(chan voting.View, 1)

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- s.View()
	s.subs[ch] = struct{}{}

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close stops the session. It is safe to call more than once.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.store.Close()
		close(s.stopCh)
		<-s.done

		s.subMu.Lock()
		s.closed = true
		for ch := range s.subs {
			close(ch)
		}
		clear(s.subs)
		s.subMu.Unlock()

		slog.Debug("Voting session closed", "viewer", s.viewer)
	})
}

func (s *Session) run() {
	defer close(s.done)

	refresh := s.clock.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()

	countdown := s.clock.NewTicker(s.cfg.CountdownInterval)
	defer countdown.Stop()

	s.startRefresh(voting.TriggerInitial)

	for {
		select {
		case <-s.stopCh:
			return

		case <-refresh.Chan():
			if s.coord.InFlight() {
				// The submission reconciles on its own.
				continue
			}
			s.startRefresh(voting.TriggerInterval)

		case <-countdown.Chan():
			if !s.phase.Active() {
				continue
			}
			_, crossed := s.phase.Tick(s.clock.Now())
			s.onBoundary(crossed)
			s.publish()

		case <-s.changed:
			var edition *domain.Edition
			if snap := s.store.Current(); snap != nil {
				edition = snap.Edition
			}
			_, crossed := s.phase.Observe(edition, s.clock.Now())
			s.onBoundary(crossed)
			s.publish()
		}
	}
}

func (s *Session) onBoundary(crossed bool) {
	if !crossed {
		return
	}
	cd := s.phase.Current()
	slog.Info("Voting phase deadline reached, revalidating", "viewer", s.viewer, "phase", string(cd.Phase))
	s.recorder.BoundaryCrossed()
	s.startRefresh(voting.TriggerBoundary)
}

func (s *Session) startRefresh(trigger string) {
	s.recorder.RefreshRequested(trigger)

	go func() {
		ctx := correlation.WithID(context.Background(), correlation.NewID())
		if _, err := s.store.Refresh(ctx); err != nil {
			if errors.Is(err, domain.ErrSessionClosed) {
				return
			}
			slog.WarnContext(ctx, "Vote data refresh failed", "viewer", s.viewer, "trigger", trigger, "error", err)
			// Surface the stale indicator.
			s.markChanged()
		}
	}()
}

func (s *Session) markChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) publish() {
	view := s.View()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return
	}
	for ch := range s.subs {
		// Replace an unread view with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- view:
		default:
		}
	}
}

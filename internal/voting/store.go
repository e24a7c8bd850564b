package voting

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"golang.org/x/sync/singleflight"
)

var errEmptySnapshot = errors.New("vote data source returned no snapshot")

// StoreState is what a reader needs to render the held data.
type StoreState struct {
	Snapshot  *domain.VoteSnapshot
	FetchedAt time.Time
	// LastError is the failure of the most recently issued fetch, if it is
	// newer than the displayed snapshot. The snapshot stays visible.
	LastError error
}

// SnapshotStore holds the last fetched VoteSnapshot for one viewer.
//
// Readers go through an atomic pointer and always see either nil (not loaded)
// or a complete snapshot. Every fetch takes a sequence number when it is
// issued; a completion is applied only if no later-issued fetch has been
// applied and no local mutation happened since it was issued.
type SnapshotStore struct {
	source   domain.VoteDataSource
	clock    clockwork.Clock
	recorder Recorder
	onChange func()

	current atomic.Pointer[domain.VoteSnapshot]

	mu         sync.Mutex
	issued     uint64
	applied    uint64
	generation uint64
	fetchedAt  time.Time
	lastErr    error
	closed     bool

	refreshGroup singleflight.Group
}

// NewSnapshotStore creates an empty store. onChange, if set, runs after
// every replacement of the held snapshot and must not block.
func NewSnapshotStore(source domain.VoteDataSource, clock clockwork.Clock, recorder Recorder, onChange func()) *SnapshotStore {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &SnapshotStore{
		source:   source,
		clock:    clock,
		recorder: recorder,
		onChange: onChange,
	}
}

// Current returns the held snapshot, or nil if nothing was loaded yet.
func (s *SnapshotStore) Current() *domain.VoteSnapshot {
	return s.current.Load()
}

func (s *SnapshotStore) State() StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreState{
		Snapshot:  s.current.Load(),
		FetchedAt: s.fetchedAt,
		LastError: s.lastErr,
	}
}

// Fetch issues one request to the data source. On success the snapshot
// replaces the held one unless the result is stale, in which case the held
// (newer) snapshot is returned. On failure the held snapshot is kept.
func (s *SnapshotStore) Fetch(ctx context.Context) (*domain.VoteSnapshot, error) {
	seq, gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	snap, err := s.source.FetchVotes(ctx)
	if err == nil && snap == nil {
		err = errEmptySnapshot
	}
	return s.complete(ctx, seq, gen, snap, err)
}

// Refresh fetches unless a fetch started under the same local state is
// already running, in which case it waits for that one. The shared fetch is
// detached from ctx so one caller giving up does not fail the others.
func (s *SnapshotStore) Refresh(ctx context.Context) (*domain.VoteSnapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	key := strconv.FormatUint(s.generation, 10)
	s.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan(key, func() (any, error) {
		return s.Fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		snap, _ := res.Val.(*domain.VoteSnapshot)
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close discards the store. In-flight fetches may still complete but their
// results are dropped and no change notifications follow.
func (s *SnapshotStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SnapshotStore) begin() (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, domain.ErrSessionClosed
	}
	s.issued++
	return s.issued, s.generation, nil
}

func (s *SnapshotStore) complete(ctx context.Context, seq, gen uint64, snap *domain.VoteSnapshot, fetchErr error) (*domain.VoteSnapshot, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}

	if fetchErr != nil {
		// A failure only counts when its success would have been applied.
		if seq > s.applied && gen == s.generation {
			s.lastErr = fetchErr
		}
		s.mu.Unlock()
		s.recorder.FetchCompleted(FetchFailed)
		return nil, fetchErr
	}

	if seq < s.applied || gen != s.generation {
		held := s.current.Load()
		applied := s.applied
		s.mu.Unlock()
		s.recorder.FetchCompleted(FetchDiscarded)
		slog.DebugContext(ctx, "Discarding stale fetch", "seq", seq, "applied_seq", applied, "generation", gen)
		return held, nil
	}

	s.applied = seq
	s.fetchedAt = s.clock.Now()
	s.lastErr = nil
	s.current.Store(snap)
	s.mu.Unlock()

	s.recorder.FetchCompleted(FetchApplied)
	s.notify()
	return snap, nil
}

// update runs fn on the held snapshot under the store lock and installs the
// result. It is the optimistic write path; fetches issued before it are
// invalidated by the generation bump.
func (s *SnapshotStore) update(fn func(cur *domain.VoteSnapshot) (*domain.VoteSnapshot, error)) (prev, next *domain.VoteSnapshot, err error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}

	prev = s.current.Load()
	next, err = fn(prev)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}

	s.generation++
	s.current.Store(next)
	s.mu.Unlock()

	s.notify()
	return prev, next, nil
}

// invalidate bumps the generation so that fetches issued so far can neither
// be joined by a later Refresh nor applied when they complete.
func (s *SnapshotStore) invalidate() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// restore reinstates prev if the held snapshot is still expected. It returns
// false when something else (a newer fetch, or teardown) got there first.
func (s *SnapshotStore) restore(expected, prev *domain.VoteSnapshot) bool {
	s.mu.Lock()

	if s.closed || s.current.Load() != expected {
		s.mu.Unlock()
		return false
	}

	s.generation++
	s.current.Store(prev)
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *SnapshotStore) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

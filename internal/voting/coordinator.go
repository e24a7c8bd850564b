package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
)

// Coordinator runs the vote submission protocol against a SnapshotStore:
// precondition checks, optimistic update, submission, then either a
// reconcile refresh or an exact rollback. At most one submission per
// coordinator is in flight at a time.
type Coordinator struct {
	store     *SnapshotStore
	submitter domain.VoteSubmitter
	clock     clockwork.Clock
	recorder  Recorder

	mu       sync.Mutex
	inFlight bool
}

func NewCoordinator(store *SnapshotStore, submitter domain.VoteSubmitter, clock clockwork.Clock, recorder Recorder) *Coordinator {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Coordinator{
		store:     store,
		submitter: submitter,
		clock:     clock,
		recorder:  recorder,
	}
}

// InFlight reports whether a submission is between its optimistic update
// and its reconcile or rollback.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Submit casts one vote for candidateID in categoryID.
//
// Precondition failures return before anything is sent. Once the backend
// has been called the submission runs to completion even if ctx is
// cancelled, so the held snapshot is always either reconciled or rolled back.
func (c *Coordinator) Submit(ctx context.Context, candidateID, categoryID string) (err error) {
	start := c.clock.Now()
	defer func() {
		c.recorder.SubmissionCompleted(domain.ErrorKind(err), c.clock.Since(start))
	}()

	if !c.acquire() {
		return domain.ErrSubmissionInProgress
	}
	defer c.release()

	prev, optimistic, err := c.store.update(func(cur *domain.VoteSnapshot) (*domain.VoteSnapshot, error) {
		return applyVote(cur, categoryID, candidateID)
	})
	if err != nil {
		return err
	}

	intent := domain.NewVoteIntent(candidateID, categoryID, start)
	logger := slog.With(
		"intent_id", intent.ID.String(),
		"category_id", categoryID,
		"candidate_id", candidateID,
	)

	detached := context.WithoutCancel(ctx)
	if err := c.submitter.SubmitVote(detached, intent); err != nil {
		if !c.store.restore(optimistic, prev) {
			logger.DebugContext(ctx, "Held snapshot replaced during submission, rollback skipped")
		}
		err = classifySubmitError(err)
		logger.InfoContext(ctx, "Vote submission failed", "result", domain.ErrorKind(err), "error", err)
		return err
	}

	logger.InfoContext(ctx, "Vote accepted")

	// Anything already in flight was issued before the backend counted
	// this vote.
	c.store.invalidate()
	c.recorder.RefreshRequested(TriggerReconcile)
	if _, err := c.store.Refresh(detached); err != nil {
		// The vote stands; the optimistic snapshot stays until the next
		// successful fetch replaces it.
		logger.WarnContext(ctx, "Reconcile refresh failed", "error", err)
	}
	return nil
}

func (c *Coordinator) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// applyVote checks the vote preconditions against cur and returns the
// optimistic snapshot. Phase checks use the server-asserted phase only.
func applyVote(cur *domain.VoteSnapshot, categoryID, candidateID string) (*domain.VoteSnapshot, error) {
	if cur == nil {
		return nil, domain.ErrNotLoaded
	}
	if !cur.HasActiveEdition() {
		return nil, fmt.Errorf("%w: %w", domain.ErrVotingNotOpen, domain.ErrNoActiveEdition)
	}
	if phase := cur.Edition.VotePhase; phase != domain.PhaseOpen {
		return nil, fmt.Errorf("%w: phase is %s", domain.ErrVotingNotOpen, phase)
	}

	cand, ok := cur.FindCandidate(categoryID, candidateID)
	if !ok {
		return nil, fmt.Errorf("%w: candidate %s in category %s", domain.ErrUnknownCandidate, candidateID, categoryID)
	}
	if cand.HasCurrentUserVoted {
		return nil, domain.ErrAlreadyVoted
	}

	return cur.WithVote(categoryID, candidateID)
}

// classifySubmitError keeps backend rejections and transport failures as they
// are and treats anything else as a network failure.
func classifySubmitError(err error) error {
	var rejected *domain.RejectedError
	var network *domain.NetworkError
	if errors.As(err, &rejected) || errors.As(err, &network) {
		return err
	}
	return &domain.NetworkError{Op: "submit vote", Err: err}
}

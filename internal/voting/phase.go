package voting

import (
	"sync"
	"time"

	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
)

// Remaining is a countdown broken into display units.
type Remaining struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// Decompose floors d to whole seconds and splits it into days, hours,
// minutes and seconds. Negative durations decompose to zero.
func Decompose(d time.Duration) Remaining {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	return Remaining{
		Days:    total / 86400,
		Hours:   total % 86400 / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

// TotalSeconds is the inverse of Decompose.
func (r Remaining) TotalSeconds() int64 {
	return r.Days*86400 + r.Hours*3600 + r.Minutes*60 + r.Seconds
}

// Countdown is the derived phase view of an edition at one instant.
type Countdown struct {
	Phase    domain.Phase
	Deadline *time.Time
	// Remaining is nil when there is nothing to count down to (CLOSED, no
	// edition, or no deadline supplied).
	Remaining *Remaining
	// Expired is set once the deadline has been reached locally. It is only
	// a hint to re-validate with the backend; the phase is not changed.
	Expired bool
}

// DerivePhase computes the countdown for an edition at now. It never
// changes the phase: only a fetched snapshot does that.
func DerivePhase(edition *domain.Edition, now time.Time) Countdown {
	if edition == nil {
		return Countdown{}
	}

	cd := Countdown{Phase: edition.VotePhase}
	if !edition.VotePhase.Counting() || edition.VotingDeadline == nil {
		return cd
	}

	deadline := *edition.VotingDeadline
	left := deadline.Sub(now)
	if left < 0 {
		left = 0
	}
	rem := Decompose(left)

	cd.Deadline = &deadline
	cd.Remaining = &rem
	cd.Expired = left == 0
	return cd
}

type boundaryKey struct {
	phase    domain.Phase
	deadline int64
}

// PhaseClock tracks the latest edition and turns clock ticks into countdowns.
// It latches the boundary event: for a given phase and deadline the crossing
// is reported exactly once, however many ticks or refreshes follow.
type PhaseClock struct {
	mu       sync.Mutex
	edition  *domain.Edition
	current  Countdown
	signaled *boundaryKey
}

func NewPhaseClock() *PhaseClock {
	return &PhaseClock{}
}

// Observe installs the edition of a newly arrived snapshot (the deadline may
// have moved) and recomputes. It reports whether a boundary was crossed.
func (p *PhaseClock) Observe(edition *domain.Edition, now time.Time) (Countdown, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.edition = edition
	return p.recompute(now)
}

// Tick recomputes against the last observed edition.
func (p *PhaseClock) Tick(now time.Time) (Countdown, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.recompute(now)
}

// Current returns the countdown computed at the last Observe or Tick.
func (p *PhaseClock) Current() Countdown {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Active reports whether another tick could change the countdown.
// Ticking stops at zero and while CLOSED.
func (p *PhaseClock) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Remaining != nil && !p.current.Expired
}

func (p *PhaseClock) recompute(now time.Time) (Countdown, bool) {
	p.current = DerivePhase(p.edition, now)
	if !p.current.Expired {
		return p.current, false
	}

	key := boundaryKey{phase: p.current.Phase, deadline: p.current.Deadline.UnixNano()}
	if p.signaled != nil && *p.signaled == key {
		return p.current, false
	}
	p.signaled = &key
	return p.current, true
}

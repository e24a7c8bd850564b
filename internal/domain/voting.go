package domain

import (
	"fmt"
	"time"
)

// Phase is the voting phase of an edition as asserted by the backend.
type Phase string

const (
	PhasePending Phase = "PENDING"
	PhaseOpen    Phase = "OPEN"
	PhaseClosed  Phase = "CLOSED"
)

// ParsePhase converts the backend's phase string.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhasePending, PhaseOpen, PhaseClosed:
		return Phase(s), nil
	default:
		return "", fmt.Errorf("unknown vote phase %q", s)
	}
}

// Counting reports whether the phase has a deadline to count down to.
func (p Phase) Counting() bool {
	return p == PhasePending || p == PhaseOpen
}

// Edition is one instance of the competition. VotingDeadline is the start of
// voting while PENDING, the end of voting while OPEN, and nil once CLOSED.
type Edition struct {
	ID             string
	Name           string
	Year           int
	VotePhase      Phase
	VotingDeadline *time.Time
}

type Candidate struct {
	ID                  string
	DisplayName         string
	VoteCount           int64
	HasCurrentUserVoted bool
}

type Category struct {
	ID         string
	Name       string
	Position   int
	TotalVotes int64
	Candidates []Candidate
}

// VoteSnapshot is the aggregate vote state at one point in time.
// A nil Edition means the backend has no active edition.
//
// Snapshots are shared between goroutines and must be treated as read-only.
// Use WithVote and friends to derive a modified copy.
type VoteSnapshot struct {
	Edition    *Edition
	Categories []Category
	TotalVotes int64
}

// HasActiveEdition reports whether the backend returned an edition.
func (s *VoteSnapshot) HasActiveEdition() bool {
	return s != nil && s.Edition != nil
}

// FindCandidate looks up a candidate inside a category.
func (s *VoteSnapshot) FindCandidate(categoryID, candidateID string) (Candidate, bool) {
	ci, ki := s.indexOf(categoryID, candidateID)
	if ci < 0 || ki < 0 {
		return Candidate{}, false
	}
	return s.Categories[ci].Candidates[ki], true
}

// CountedVotes sums voteCount over every candidate of every category.
// For a consistent snapshot it equals TotalVotes.
func (s *VoteSnapshot) CountedVotes() int64 {
	var sum int64
	for _, cat := range s.Categories {
		for _, cand := range cat.Candidates {
			sum += cand.VoteCount
		}
	}
	return sum
}

// WithVote returns a copy of the snapshot with one vote added for the candidate:
// its count, its category total and the overall total go up by one and the
// candidate is flagged as voted by the current user. The receiver is untouched.
func (s *VoteSnapshot) WithVote(categoryID, candidateID string) (*VoteSnapshot, error) {
	ci, ki := s.indexOf(categoryID, candidateID)
	if ci < 0 || ki < 0 {
		return nil, fmt.Errorf("%w: candidate %s in category %s", ErrUnknownCandidate, candidateID, categoryID)
	}

	// Only the touched category gets fresh backing arrays; the rest is shared.
	categories := make([]Category, len(s.Categories))
	copy(categories, s.Categories)

	cat := categories[ci]
	candidates := make([]Candidate, len(cat.Candidates))
	copy(candidates, cat.Candidates)

	cand := candidates[ki]
	cand.VoteCount++
	cand.HasCurrentUserVoted = true
	candidates[ki] = cand

	cat.Candidates = candidates
	cat.TotalVotes++
	categories[ci] = cat

	return &VoteSnapshot{
		Edition:    s.Edition,
		Categories: categories,
		TotalVotes: s.TotalVotes + 1,
	}, nil
}

func (s *VoteSnapshot) indexOf(categoryID, candidateID string) (int, int) {
	if s == nil {
		return -1, -1
	}
	for ci, cat := range s.Categories {
		if cat.ID != categoryID {
			continue
		}
		for ki, cand := range cat.Candidates {
			if cand.ID == candidateID {
				return ci, ki
			}
		}
		return ci, -1
	}
	return -1, -1
}

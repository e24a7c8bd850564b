package domain

import (
	"time"

	"github.com/google/uuid"
)

// VoteIntent is one user-initiated attempt to vote. It lives only for the
// duration of a single submission. ID is sent to the backend as the
// idempotency key, so a duplicated request for the same intent counts once.
type VoteIntent struct {
	ID          uuid.UUID
	CandidateID string
	CategoryID  string
	IssuedAt    time.Time
}

func NewVoteIntent(candidateID, categoryID string, issuedAt time.Time) VoteIntent {
	return VoteIntent{
		ID:          uuid.New(),
		CandidateID: candidateID,
		CategoryID:  categoryID,
		IssuedAt:    issuedAt,
	}
}

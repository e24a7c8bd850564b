package domain

import "context"

// VoteDataSource fetches the live vote aggregate for the current viewer.
// A snapshot with a nil Edition is a valid answer, distinct from an error.
type VoteDataSource interface {
	FetchVotes(ctx context.Context) (*VoteSnapshot, error)
}

// VoteSubmitter submits a vote. Implementations return *RejectedError for
// business failures and *NetworkError for transport failures.
type VoteSubmitter interface {
	SubmitVote(ctx context.Context, intent VoteIntent) error
}

// VotingBackend is the full collaborator surface for one viewer.
type VotingBackend interface {
	VoteDataSource
	VoteSubmitter
}

// BackendProvider hands out viewer-scoped backends.
type BackendProvider interface {
	ForViewer(token string) VotingBackend
}

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
)

// flexibleID accepts identifiers encoded either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

type liveVotesResponse struct {
	Edition    *editionDTO   `json:"edition"`
	Categories []categoryDTO `json:"categories"`
	TotalVotes int64         `json:"totalVotes"`
}

type editionDTO struct {
	ID             flexibleID `json:"id"`
	Name           string     `json:"name"`
	Year           int        `json:"year"`
	VotePhase      string     `json:"votePhase"`
	VotingDeadline *time.Time `json:"votingDeadline"`
}

type categoryDTO struct {
	ID                   flexibleID     `json:"id"`
	Name                 string         `json:"name"`
	Position             *int           `json:"position"`
	TotalVotesInCategory *int64         `json:"totalVotesInCategory"`
	TotalVotes           *int64         `json:"totalVotes"`
	Candidates           []candidateDTO `json:"candidates"`
}

type candidateDTO struct {
	ID                  flexibleID `json:"id"`
	DisplayName         string     `json:"displayName"`
	VoteCount           int64      `json:"voteCount"`
	HasCurrentUserVoted bool       `json:"hasCurrentUserVoted"`
}

type submitVoteRequest struct {
	CandidateID string `json:"candidateId"`
	CategoryID  string `json:"categoryId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toDomain validates the payload and converts it. Categories without an
// explicit position keep their response order.
func (r *liveVotesResponse) toDomain() (*domain.VoteSnapshot, error) {
	snap := &domain.VoteSnapshot{
		Categories: make([]domain.Category, 0, len(r.Categories)),
		TotalVotes: r.TotalVotes,
	}
	if r.TotalVotes < 0 {
		return nil, fmt.Errorf("negative totalVotes %d", r.TotalVotes)
	}

	if r.Edition != nil {
		phase, err := domain.ParsePhase(r.Edition.VotePhase)
		if err != nil {
			return nil, err
		}
		snap.Edition = &domain.Edition{
			ID:             string(r.Edition.ID),
			Name:           r.Edition.Name,
			Year:           r.Edition.Year,
			VotePhase:      phase,
			VotingDeadline: r.Edition.VotingDeadline,
		}
	}

	for i, c := range r.Categories {
		cat := domain.Category{
			ID:         string(c.ID),
			Name:       c.Name,
			Position:   i + 1,
			Candidates: make([]domain.Candidate, 0, len(c.Candidates)),
		}
		if c.Position != nil {
			cat.Position = *c.Position
		}

		var sum int64
		for _, cand := range c.Candidates {
			if cand.VoteCount < 0 {
				return nil, fmt.Errorf("negative voteCount for candidate %s", cand.ID)
			}
			sum += cand.VoteCount
			cat.Candidates = append(cat.Candidates, domain.Candidate{
				ID:                  string(cand.ID),
				DisplayName:         cand.DisplayName,
				VoteCount:           cand.VoteCount,
				HasCurrentUserVoted: cand.HasCurrentUserVoted,
			})
		}

		switch {
		case c.TotalVotesInCategory != nil:
			cat.TotalVotes = *c.TotalVotesInCategory
		case c.TotalVotes != nil:
			cat.TotalVotes = *c.TotalVotes
		default:
			cat.TotalVotes = sum
		}
		snap.Categories = append(snap.Categories, cat)
	}

	return snap, nil
}

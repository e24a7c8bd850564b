package voting

import (
	"math"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
)

type ViewStatus string

const (
	StatusNotLoaded       ViewStatus = "not_loaded"
	StatusNoActiveEdition ViewStatus = "no_active_edition"
	StatusReady           ViewStatus = "ready"
)

// View is the rendered aggregate for one viewer. It is a pure function of
// the store state and the countdown and carries no references into either.
type View struct {
	Status            ViewStatus     `json:"status"`
	Edition           *EditionView   `json:"edition,omitempty"`
	Countdown         *CountdownView `json:"countdown,omitempty"`
	Categories        []CategoryView `json:"categories"`
	TotalVotes        int64          `json:"totalVotes"`
	TotalVotesDisplay string         `json:"totalVotesDisplay"`
	CanVote           bool           `json:"canVote"`
	Submitting        bool           `json:"submitting"`
	Stale             bool           `json:"stale"`
	LastError         string         `json:"lastError,omitempty"`
	FetchedAt         *time.Time     `json:"fetchedAt,omitempty"`
}

type EditionView struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Year           int          `json:"year"`
	VotePhase      domain.Phase `json:"votePhase"`
	VotingDeadline *time.Time   `json:"votingDeadline"`
}

type CountdownView struct {
	Phase     domain.Phase `json:"phase"`
	Deadline  *time.Time   `json:"deadline,omitempty"`
	Remaining *Remaining   `json:"remaining,omitempty"`
	// TotalSeconds lets clients run their own ticker between pushes.
	TotalSeconds int64 `json:"totalSeconds"`
	Expired      bool  `json:"expired"`
}

type CategoryView struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Position          int             `json:"position"`
	TotalVotes        int64           `json:"totalVotes"`
	TotalVotesDisplay string          `json:"totalVotesDisplay"`
	Candidates        []CandidateView `json:"candidates"`
}

type CandidateView struct {
	ID                  string  `json:"id"`
	DisplayName         string  `json:"displayName"`
	VoteCount           int64   `json:"voteCount"`
	VoteCountDisplay    string  `json:"voteCountDisplay"`
	PercentOfCategory   float64 `json:"percentOfCategory"`
	PercentOfTotal      float64 `json:"percentOfTotal"`
	Rank                int     `json:"rank"`
	Leading             bool    `json:"leading"`
	HasCurrentUserVoted bool    `json:"hasCurrentUserVoted"`
}

// BuildView renders the store state. Categories are ordered by position and
// candidates keep the backend's order; Rank gives the standings, with tied
// candidates sharing a rank.
func BuildView(state StoreState, countdown Countdown, submitting bool) View {
	v := View{
		Status:     StatusNotLoaded,
		Categories: []CategoryView{},
		Submitting: submitting,
		Stale:      state.LastError != nil,
	}
	if state.LastError != nil {
		v.LastError = state.LastError.Error()
	}

	snap := state.Snapshot
	if snap == nil {
		v.TotalVotesDisplay = humanize.Comma(0)
		return v
	}

	if !state.FetchedAt.IsZero() {
		fetchedAt := state.FetchedAt
		v.FetchedAt = &fetchedAt
	}
	v.TotalVotes = snap.TotalVotes
	v.TotalVotesDisplay = humanize.Comma(snap.TotalVotes)

	if !snap.HasActiveEdition() {
		v.Status = StatusNoActiveEdition
		return v
	}

	v.Status = StatusReady
	ed := snap.Edition
	v.Edition = &EditionView{
		ID:             ed.ID,
		Name:           ed.Name,
		Year:           ed.Year,
		VotePhase:      ed.VotePhase,
		VotingDeadline: ed.VotingDeadline,
	}
	v.Countdown = &CountdownView{
		Phase:     countdown.Phase,
		Deadline:  countdown.Deadline,
		Remaining: countdown.Remaining,
		Expired:   countdown.Expired,
	}
	if countdown.Remaining != nil {
		v.Countdown.TotalSeconds = countdown.Remaining.TotalSeconds()
	}
	v.CanVote = ed.VotePhase == domain.PhaseOpen && !submitting

	categories := slices.Clone(snap.Categories)
	slices.SortStableFunc(categories, func(a, b domain.Category) int {
		return a.Position - b.Position
	})

	v.Categories = make([]CategoryView, 0, len(categories))
	for _, cat := range categories {
		v.Categories = append(v.Categories, buildCategoryView(cat, snap.TotalVotes))
	}
	return v
}

func buildCategoryView(cat domain.Category, overall int64) CategoryView {
	cv := CategoryView{
		ID:                cat.ID,
		Name:              cat.Name,
		Position:          cat.Position,
		TotalVotes:        cat.TotalVotes,
		TotalVotesDisplay: humanize.Comma(cat.TotalVotes),
		Candidates:        make([]CandidateView, 0, len(cat.Candidates)),
	}

	ranks := standings(cat.Candidates)
	for i, cand := range cat.Candidates {
		cv.Candidates = append(cv.Candidates, CandidateView{
			ID:                  cand.ID,
			DisplayName:         cand.DisplayName,
			VoteCount:           cand.VoteCount,
			VoteCountDisplay:    humanize.Comma(cand.VoteCount),
			PercentOfCategory:   percent(cand.VoteCount, cat.TotalVotes),
			PercentOfTotal:      percent(cand.VoteCount, overall),
			Rank:                ranks[i],
			Leading:             ranks[i] == 1 && cand.VoteCount > 0,
			HasCurrentUserVoted: cand.HasCurrentUserVoted,
		})
	}
	return cv
}

// standings assigns competition ranks (1, 2, 2, 4) by descending vote count.
func standings(candidates []domain.Candidate) []int {
	ranks := make([]int, len(candidates))
	for i, c := range candidates {
		rank := 1
		for _, other := range candidates {
			if other.VoteCount > c.VoteCount {
				rank++
			}
		}
		ranks[i] = rank
	}
	return ranks
}

// percent returns part/whole as a percentage rounded to two decimals.
func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}

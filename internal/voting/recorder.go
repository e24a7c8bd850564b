package voting

import "time"

// Fetch outcomes reported to a Recorder.
const (
	FetchApplied   = "applied"
	FetchDiscarded = "discarded"
	FetchFailed    = "error"
)

// Refresh triggers.
const (
	TriggerInitial   = "initial"
	TriggerInterval  = "interval"
	TriggerUser      = "user"
	TriggerBoundary  = "boundary"
	TriggerReconcile = "reconcile"
)

// Recorder receives voting events for instrumentation.
type Recorder interface {
	FetchCompleted(result string)
	RefreshRequested(trigger string)
	SubmissionCompleted(result string, duration time.Duration)
	BoundaryCrossed()
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) FetchCompleted(string)                     {}
func (NopRecorder) RefreshRequested(string)                   {}
func (NopRecorder) SubmissionCompleted(string, time.Duration) {}
func (NopRecorder) BoundaryCrossed()                          {}

// Package voting implements the live voting core for a single viewer.
//
// SnapshotStore owns the one held VoteSnapshot: fetches are sequence-tagged so the last
// issued fetch wins, concurrent refreshes collapse onto the in-flight one, and replacement
// is atomic for readers. Coordinator is the only other writer; it applies an optimistic
// copy-on-write vote, submits it, then reconciles with a refresh or rolls back exactly.
// PhaseClock derives the countdown and latches the one-shot boundary event.
// BuildView is a pure read of both for rendering.
package voting

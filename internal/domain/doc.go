// Package domain defines the core voting types and the collaborator interfaces.
//
// Concept-oriented files (voting.go, intent.go, errors.go, backend.go) hold the shared types.
// Snapshots are immutable values: every change produces a new snapshot, never an in-place edit.
// No implementation of collaborators lives here, only contracts.
package domain

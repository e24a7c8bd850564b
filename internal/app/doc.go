// Package app provides the application layer.
//
// A Session wires the voting core for one viewer and drives it: refresh and
// countdown timers, boundary revalidation, live view fan-out and teardown.
// The Registry owns the sessions, keyed by viewer token, and closes the ones
// nobody has looked at for a while. Depends on domain interfaces, not concrete
// adapters.
package app

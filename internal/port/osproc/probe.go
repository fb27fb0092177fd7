// Package osproc defines the port for probing and killing OS processes.
// Pids and ports are the only state shared with the outside world; all
// callers must treat answers as racy snapshots.
package osproc

// Probe is the port interface for OS process and port queries.
type Probe interface {
	// Alive reports whether pid refers to a live process, using a
	// zero-signal check. Errors are folded into false: a process we
	// cannot signal is treated as gone.
	Alive(pid int) bool

	// PIDsOnPort returns the pids currently bound to the given TCP
	// port. An empty slice means the port is free.
	PIDsOnPort(port uint16) ([]int, error)

	// Kill forcibly terminates pid. Killing an already-dead process
	// is not an error.
	Kill(pid int) error
}

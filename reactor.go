// Package taskloop: reactor.go defines the abstract I/O multiplexer
// interface (spec §4.3). Platform backends live in reactor_linux.go
// (epoll), reactor_darwin.go (kqueue), and reactor_other.go (stub for
// unsupported GOOS), adapted from eventloop/poller_linux.go and
// poller_darwin.go.
package taskloop

import (
	"errors"
	"time"
)

// IODirection is the direction a file descriptor is watched for.
type IODirection uint8

const (
	// IORead watches a file descriptor for readability.
	IORead IODirection = iota
	// IOWrite watches a file descriptor for writability.
	IOWrite
)

type ioDirection = IODirection

// Standard reactor errors.
var (
	ErrReactorClosed      = errors.New("taskloop: reactor is closed")
	ErrReactorUnsupported = errors.New("taskloop: reactor backend unsupported on this platform")
	ErrFDAlreadyWatched   = errors.New("taskloop: fd already registered for this direction")
	ErrFDNotWatched       = errors.New("taskloop: fd not registered for this direction")
)

// ReadyFD reports that fd became ready in the given direction.
type ReadyFD struct {
	FD        int
	Direction IODirection
}

// Reactor is the abstract I/O readiness multiplexer the scheduler
// consults when its ready queue is empty and at least one task is
// parked (spec §4.3). Any backend satisfying this interface is
// permissible; the scheduler never depends on the concrete type.
type Reactor interface {
	// AddReader/AddWriter register fd for readiness in one direction. At
	// most one registration exists per (fd, direction); re-registering
	// replaces the previous one.
	AddReader(fd int) error
	AddWriter(fd int) error

	// Remove clears any registration for fd in the given direction.
	Remove(fd int, dir IODirection) error

	// Poll blocks up to maxBlock (or indefinitely if maxBlock < 0) until
	// at least one registered fd is ready, or returns immediately if
	// maxBlock == 0. It returns the list of fds that became ready.
	Poll(maxBlock time.Duration) ([]ReadyFD, error)

	// Wake interrupts a concurrent Poll call from another goroutine
	// (used by the subprocess reaper and signal monitor to push the
	// scheduler out of an idle block).
	Wake() error

	// Close releases the backend's OS resources.
	Close() error
}

// newPlatformReactor is implemented per-OS in reactor_linux.go,
// reactor_darwin.go, and reactor_other.go.
func newPlatformReactor() (Reactor, error) {
	return newPlatformReactorImpl()
}

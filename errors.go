package taskloop

import (
	"errors"
	"fmt"
)

// Standard scheduler-level errors.
var (
	// ErrSchedulerAlreadyRunning is returned when Run is called on a
	// scheduler that is already running.
	ErrSchedulerAlreadyRunning = errors.New("taskloop: scheduler is already running")

	// ErrSchedulerTerminated is returned when operations are attempted on
	// a scheduler that has fully shut down.
	ErrSchedulerTerminated = errors.New("taskloop: scheduler has terminated")

	// ErrReentrantRun is returned when Run is called from within a task
	// running on the same scheduler.
	ErrReentrantRun = errors.New("taskloop: cannot call Run from within the scheduler")

	// ErrUnknownTask is returned when an operation names a task id the
	// scheduler has never seen or has already garbage collected.
	ErrUnknownTask = errors.New("taskloop: unknown task id")

	// ErrQueueEmpty is returned by GetNowait on an empty Queue.
	ErrQueueEmpty = errors.New("taskloop: queue is empty")

	// ErrQueueFull is returned by PutNowait on a full bounded Queue.
	ErrQueueFull = errors.New("taskloop: queue is full")

	// ErrTaskDoneUnderflow is returned when TaskDone is called more times
	// than there were outstanding Put calls.
	ErrTaskDoneUnderflow = errors.New("taskloop: task_done called too many times")

	// ErrGroupClosed is returned when Spawn is called on a Group whose
	// scope has already exited.
	ErrGroupClosed = errors.New("taskloop: group is closed")

	// ErrChannelClosed is returned by Send/Receive on a closed Channel.
	ErrChannelClosed = errors.New("taskloop: channel is closed")
)

// CancelledError indicates a task was cancelled. Target code should allow
// it to unwind rather than recover and continue as if nothing happened.
type CancelledError struct {
	Reason error
}

func (e *CancelledError) Error() string {
	if e.Reason == nil {
		return "taskloop: task cancelled"
	}
	return fmt.Sprintf("taskloop: task cancelled: %s", e.Reason)
}

func (e *CancelledError) Unwrap() error { return e.Reason }

// Is reports whether target is also a *CancelledError, regardless of
// reason, so errors.Is(err, &CancelledError{}) works as a type probe.
func (e *CancelledError) Is(target error) bool {
	var c *CancelledError
	return errors.As(target, &c)
}

// TaskCancelled indicates cancellation delivered by a structured scope —
// a Group, a CancelScope, or TimeoutAfter — rather than a direct Cancel
// call. It embeds CancelledError so errors.Is(err, &CancelledError{})
// still matches.
type TaskCancelled struct {
	*CancelledError
	ScopeKind string // "group", "cancel_scope", "timeout"
}

func (e *TaskCancelled) Error() string {
	return fmt.Sprintf("taskloop: task cancelled by %s scope: %s", e.ScopeKind, e.Reason)
}

// TimeoutError is raised in the caller of WaitFor when its deadline
// elapses before the awaited task completes.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.Cause == nil {
		return "taskloop: operation timed out"
	}
	return fmt.Sprintf("taskloop: operation timed out: %s", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// TaskTimeout is raised inside the body of a TimeoutAfter scope when its
// deadline elapses. It is a subclass of the cancel family: errors.Is(err,
// &CancelledError{}) reports true for a *TaskTimeout.
type TaskTimeout struct {
	*CancelledError
	Timeout error
}

func (e *TaskTimeout) Error() string {
	return fmt.Sprintf("taskloop: timeout scope deadline elapsed: %s", e.Timeout)
}

func (e *TaskTimeout) Unwrap() error { return e.CancelledError }

// InvalidStateError is returned when a task's result is queried while
// the task is still running, or for an id the scheduler no longer knows
// about (its terminal record has already been collected).
type InvalidStateError struct {
	TaskID TaskID
	Detail string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("taskloop: invalid state for task %d: %s", e.TaskID, e.Detail)
}

// InvalidArgumentError is returned for malformed input to a kernel
// request or API call, such as a bad task id or an unrecognized target.
type InvalidArgumentError struct {
	Argument string
	Detail   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("taskloop: invalid argument %q: %s", e.Argument, e.Detail)
}

// SignaledError is implemented by an error that indicates a task's
// owned subprocess resolved because the OS delivered it a signal,
// rather than the child exiting on its own (spec §4.9's "signaled"
// disposition) — completeTask transitions such a task to TaskSignaled
// instead of TaskErred. subprocess.ChildSignaled is the concrete type
// the subprocess package raises to satisfy this.
type SignaledError interface {
	error
	Signal() string
}

// LengthException is returned by Gather when a race count exceeds the
// number of supplied task ids.
type LengthException struct {
	Requested int
	Available int
}

func (e *LengthException) Error() string {
	return fmt.Sprintf("taskloop: gather race=%d exceeds %d supplied ids", e.Requested, e.Available)
}

// Panic represents an unrecoverable runtime invariant violation. It is
// not intended to be caught by ordinary user code; the scheduler raises
// it (via panic) when its own bookkeeping detects corruption, such as a
// task appearing in more than one wait set.
type Panic struct {
	Detail string
}

func (e *Panic) Error() string {
	return fmt.Sprintf("taskloop: invariant violation: %s", e.Detail)
}

// WrapError wraps cause with a message, preserving the chain for
// errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

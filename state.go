package taskloop

import "sync/atomic"

// TaskState is the lifecycle state of a Task (spec §3).
//
// State Machine:
//
//	pending -> ready -> running -> {ready, suspended, completed, erred, cancelled, signaled}
//	suspended -> ready
//
// Terminal states (completed, erred, cancelled, signaled) never
// transition further; a task's result/exception is immutable once one
// of them is reached.
type TaskState uint32

const (
	// TaskPending is the state of a task that has been constructed but
	// not yet handed to the scheduler's ready queue.
	TaskPending TaskState = iota
	// TaskReady means the task is sitting in the ready queue awaiting a step.
	TaskReady
	// TaskRunning means the task's coroutine is currently executing.
	TaskRunning
	// TaskSuspended means the task is parked on a waitable (reactor, timer,
	// channel, queue, event, semaphore, group, or another task's join).
	TaskSuspended
	// TaskCompleted is a terminal state: the task returned a result.
	TaskCompleted
	// TaskErred is a terminal state: the task's coroutine returned an error.
	TaskErred
	// TaskCancelled is a terminal state: the task was cancelled.
	TaskCancelled
	// TaskSignaled is a terminal state: the task's owned subprocess was
	// delivered an OS signal and the task resolved from that signal.
	TaskSignaled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCompleted:
		return "completed"
	case TaskErred:
		return "erred"
	case TaskCancelled:
		return "cancelled"
	case TaskSignaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of the four terminal states.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskErred, TaskCancelled, TaskSignaled:
		return true
	default:
		return false
	}
}

// TaskKind affects how a task's values and cancellation propagate
// (spec §3).
type TaskKind int

const (
	// KindRegular is a plain spawned task: errors propagate to its
	// awaiter via Join, or are surfaced at scheduler shutdown if never
	// joined.
	KindRegular TaskKind = iota
	// KindAsync is a task spawned as a first-class async computation,
	// equivalent to KindRegular for propagation purposes; the distinction
	// exists for callers that want to distinguish "fire and Join later"
	// call sites from ordinary spawns.
	KindAsync
	// KindAwaited marks a task that some other task is currently blocked
	// on via Join; set transiently while an awaiter is parked.
	KindAwaited
	// KindParalleled marks a task whose terminal transition is driven
	// externally (by the subprocess supervisor) rather than by its
	// coroutine returning.
	KindParalleled
	// KindFiber is a lightweight task kind used for tightly-coupled
	// cooperative helpers (e.g. group internals) that should not surface
	// independently in gather/group result sets.
	KindFiber
	// KindStateless is best-effort, fire-and-forget: its failure does not
	// propagate to any awaiter or group and is not surfaced at shutdown.
	KindStateless
)

func (k TaskKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindAsync:
		return "async"
	case KindAwaited:
		return "awaited"
	case KindParalleled:
		return "paralleled"
	case KindFiber:
		return "fiber"
	case KindStateless:
		return "stateless"
	default:
		return "unknown"
	}
}

// atomicTaskState is a lock-free CAS wrapper for TaskState, mirroring
// the teacher's FastState machine but without cache-line padding: a
// single scheduler goroutine plus at most one task goroutine touch a
// given task's state, not the many cores a hot loop contends over.
type atomicTaskState struct {
	v atomic.Uint32
}

func newAtomicTaskState(initial TaskState) *atomicTaskState {
	s := &atomicTaskState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *atomicTaskState) Load() TaskState {
	return TaskState(s.v.Load())
}

func (s *atomicTaskState) Store(state TaskState) {
	s.v.Store(uint32(state))
}

func (s *atomicTaskState) CompareAndSwap(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

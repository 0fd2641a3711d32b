package taskloop

import (
	"errors"
	"time"
)

// cancelRegistration is the back-reference task.go holds so
// unparkFromWaitable can detach a cancelled task from whatever
// CancelScope it is a member of, without CancelScope needing to know
// about Task internals.
type cancelRegistration struct {
	scope *CancelScope
}

func (r *cancelRegistration) removeMember(id TaskID) {
	r.scope.removeMember(id)
}

// CancelScope is a cancellable membership group (spec §4.2): any task
// that enters it receives Cancelled at its next suspension point once
// the scope is cancelled, whether that happens manually, via a deadline
// timer (see WaitFor/TimeoutAfter in timeout.go), or because an
// enclosing scope was cancelled first.
//
// A CancelScope has exactly one owner — the task that created it — and
// is not safe to Enter/Exit from a task other than its owner. Only the
// owner's own goroutine and the scheduler's driving goroutine ever touch
// a scope's fields, and never at the same instant: the driving goroutine
// only runs a scope's owner-unrelated mutations (Cancel, deadline
// firing) while the owner task is parked, never while its synchronous
// Enter/Exit code is mid-flight.
type CancelScope struct {
	sched   *Scheduler
	ownerID TaskID
	parent  *CancelScope

	members map[TaskID]struct{}

	cancelled bool
	cancelErr error

	deadline *timerEntry

	// pendingDeadline, if non-zero, is armed as a deadline timer the
	// first time Enter runs (set by TimeoutAfter; a plain NewCancelScope
	// has no deadline of its own).
	pendingDeadline time.Duration
	// isTimeout marks a scope created via TimeoutAfter, so Exit converts
	// a matching cancellation into a *TaskTimeout instead of swallowing
	// it (spec §4.2: a timeout_after scope raises TaskTimeout, it does
	// not silently absorb it the way a bare CancelScope absorbs its own
	// Cancel).
	isTimeout bool
}

// NewCancelScope creates a scope owned by the calling task.
func (c *TaskContext) NewCancelScope() *CancelScope {
	sc := &CancelScope{
		sched:   c.task.sched,
		ownerID: c.task.id,
		members: map[TaskID]struct{}{c.task.id: {}},
	}
	if c.task.cancelScope != nil {
		sc.parent = c.task.cancelScope.scope
	}
	return sc
}

// Enter binds the owning task to sc, so a subsequent cancellation is
// delivered to it, and arms sc's deadline timer if it was created via
// TimeoutAfter.
func (sc *CancelScope) Enter() error {
	owner, ok := sc.sched.tasks[sc.ownerID]
	if !ok {
		return &InvalidStateError{TaskID: sc.ownerID, Detail: "cancel scope owner no longer registered"}
	}
	owner.cancelScope = &cancelRegistration{scope: sc}
	if sc.pendingDeadline > 0 {
		sc.isTimeout = true
		deadlineErr := &TimeoutError{Cause: errors.New("timeout_after deadline exceeded")}
		sc.deadline = sc.sched.scheduleTimerCallback(sc.pendingDeadline, func() {
			sc.Cancel(deadlineErr)
		})
	}
	return nil
}

// Exit releases the scope. If err is this scope's own cancellation: a
// plain CancelScope absorbs it and returns nil (the classic "a scope
// swallows its own cancellation, not its parent's" rule); a TimeoutAfter
// scope instead returns it wrapped as a *TaskTimeout, per spec §4.2 —
// the deadline is a recoverable condition the caller is expected to
// observe, not a silently-absorbed cancellation. Any other error,
// including a cancellation that originated from an enclosing scope,
// propagates unchanged.
func (sc *CancelScope) Exit(err error) error {
	if sc.deadline != nil {
		sc.sched.cancelTimer(sc.deadline)
		sc.deadline = nil
	}
	if owner, ok := sc.sched.tasks[sc.ownerID]; ok && owner.cancelScope != nil && owner.cancelScope.scope == sc {
		owner.cancelScope = nil
		if sc.parent != nil {
			owner.cancelScope = &cancelRegistration{scope: sc.parent}
		}
	}

	var ce *CancelledError
	if err != nil && errors.As(err, &ce) && sc.cancelled && errors.Is(ce.Reason, sc.cancelErr) {
		if sc.isTimeout {
			return &TaskTimeout{
				CancelledError: &CancelledError{Reason: sc.cancelErr},
				Timeout:        sc.cancelErr,
			}
		}
		return nil
	}
	return err
}

// Cancel cancels sc and every task currently registered as a member,
// including tasks spawned inside it via a Group bound to this scope.
func (sc *CancelScope) Cancel(reason error) {
	if reason == nil {
		reason = errors.New("cancel scope cancelled")
	}
	sc.sched.post(func(s *Scheduler) {
		if sc.cancelled {
			return
		}
		sc.cancelled = true
		sc.cancelErr = reason
		for id := range sc.members {
			s.doCancel(id, reason)
		}
	})
}

// Cancelled reports whether sc has been cancelled, either directly or by
// its deadline.
func (sc *CancelScope) Cancelled() bool {
	return sc.cancelled
}

// addMember registers id as cancelled-together-with sc's owner; used by
// Group to fold spawned children into their parent's scope.
func (sc *CancelScope) addMember(id TaskID) {
	sc.members[id] = struct{}{}
}

func (sc *CancelScope) removeMember(id TaskID) {
	delete(sc.members, id)
}

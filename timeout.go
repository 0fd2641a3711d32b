package taskloop

import (
	"errors"
	"time"
)

// TimeoutAfter constructs a CancelScope armed with a deadline (spec
// §4.2 "timeout_after(t)"): Enter binds the calling task and arms the
// timer, Exit disarms it. A deadline firing while the scope's body is
// in flight delivers a *TaskTimeout at the owner's next suspension
// point; Exit translates a matching cancellation into that *TaskTimeout
// rather than swallowing it, per spec's "escaping the scope naturally
// translates to a recoverable timeout at the enclosing with".
//
// Typical use:
//
//	sc := ctx.TimeoutAfter(500 * time.Millisecond)
//	if err := sc.Enter(); err != nil {
//		return err
//	}
//	value, err := doWork(ctx)
//	err = sc.Exit(err)
//	var tt *TaskTimeout
//	if errors.As(err, &tt) {
//		// deadline elapsed
//	}
func (c *TaskContext) TimeoutAfter(d time.Duration) *CancelScope {
	sc := c.NewCancelScope()
	sc.pendingDeadline = d
	return sc
}

// WaitFor spawns co as a subtask and races it against a deadline (spec
// §4.2 "wait_for(c, t)"). If co terminates before d elapses, its result
// or error is returned directly and the timer is disarmed. If d elapses
// first, co is cancelled and WaitFor returns a *TimeoutError to the
// caller; co's own eventual CancelledError is discarded, since it is
// folded into the caller's TimeoutError instead of being separately
// observable (nothing else ever joins co).
func (c *TaskContext) WaitFor(d time.Duration, co Coroutine) (any, error) {
	subID := c.task.sched.Spawn(co)

	value, err := c.suspend(func(t *Task, s *Scheduler) {
		sub, ok := s.tasks[subID]
		if !ok {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = &InvalidStateError{TaskID: subID, Detail: "wait_for subtask vanished before it could be awaited"}
			return
		}
		if sub.state.Load().IsTerminal() {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.inbox = sub.result
			t.pendingException = sub.exception
			return
		}

		sub.awaiter = t.id
		t.state.Store(TaskSuspended)

		timeoutErr := &TimeoutError{Cause: errors.New("wait_for deadline exceeded")}
		timer := s.scheduleTimerCallback(d, func() {
			if sub.state.Load().IsTerminal() {
				return // sub already completed; wake() below already disarmed this timer
			}
			sub.awaiter = 0
			s.doCancel(subID, timeoutErr)
			if t.state.Load() == TaskSuspended {
				t.timerHandle = nil
				s.wake(t, nil, timeoutErr)
			}
		})
		t.timerHandle = timer
		s.addCancelHook(t.id, func() {
			s.cancelTimer(timer)
			sub.awaiter = 0
			s.doCancel(subID, errors.New("wait_for caller cancelled"))
		})
	})
	return value, err
}

// MoveOnAfter runs fn with a deadline. If fn has not returned within d,
// its in-flight suspension is cancelled and MoveOnAfter returns whatever
// fn had produced so far (nil, nil) with timedOut true, swallowing the
// cancellation rather than raising it — spec §4.2's "soft" timeout.
func (c *TaskContext) MoveOnAfter(d time.Duration, fn func(*TaskContext) (any, error)) (value any, err error, timedOut bool) {
	sc := c.NewCancelScope()
	if enterErr := sc.Enter(); enterErr != nil {
		return nil, enterErr, false
	}

	timeoutReason := &TimeoutError{Cause: errors.New("move_on_after deadline exceeded")}
	sc.deadline = c.task.sched.scheduleTimerCallback(d, func() {
		sc.Cancel(timeoutReason)
	})

	value, err = fn(c)
	timedOut = sc.cancelled && errors.Is(sc.cancelErr, error(timeoutReason))
	err = sc.Exit(err)
	if timedOut {
		return value, nil, true
	}
	return value, err, false
}

// FailAfter runs fn inside a TimeoutAfter scope — spec §4.2's "hard"
// timeout, sugar over TimeoutAfter for callers that want a function
// boundary rather than manual Enter/Exit.
func (c *TaskContext) FailAfter(d time.Duration, fn func(*TaskContext) (any, error)) (any, error) {
	sc := c.TimeoutAfter(d)
	if enterErr := sc.Enter(); enterErr != nil {
		return nil, enterErr
	}
	value, err := fn(c)
	return value, sc.Exit(err)
}

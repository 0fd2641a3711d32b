package taskloop

import "errors"

func isCancellation(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// WaitPolicy selects how Group.Wait decides it is done (spec §4.7).
type WaitPolicy int

const (
	// WaitAll waits for every child to terminate, aggregating all errors.
	WaitAll WaitPolicy = iota
	// WaitAny returns as soon as any single child terminates, successfully
	// or not, cancelling the rest.
	WaitAny
	// WaitObject returns as soon as any child completes successfully,
	// cancelling the rest; if every child errors, the aggregate error is
	// returned once the last one terminates.
	WaitObject
	// WaitNone does not wait at all: Wait returns immediately, and
	// children run to completion detached, their errors (if any)
	// surfaced only at scheduler shutdown.
	WaitNone
)

// Group is a structured-concurrency task group (spec §4.7): every task
// spawned through it is cancelled together when the group's scope exits,
// and Wait aggregates completion per the group's WaitPolicy. Grounded on
// the run-all/lifecycle shape of a worker-pool supervisor: children
// register with the group at spawn, the group tracks how many remain,
// and a single owner call parks until the policy is satisfied.
type Group struct {
	sched  *Scheduler
	owner  TaskID
	scope  *CancelScope
	policy WaitPolicy

	children  map[TaskID]struct{}
	remaining int
	results   map[TaskID]any
	errs      []error
	winner    TaskID

	closed bool
	waiter *Task
	done   bool
}

// NewGroup creates a Group owned by the calling task, bound to a fresh
// CancelScope so cancelling the group cancels every member.
func (c *TaskContext) NewGroup(policy WaitPolicy) *Group {
	g := &Group{
		sched:    c.task.sched,
		owner:    c.task.id,
		scope:    c.NewCancelScope(),
		policy:   policy,
		children: make(map[TaskID]struct{}),
		results:  make(map[TaskID]any),
	}
	return g
}

// Spawn creates a child task bound to g. Returns ErrGroupClosed if g's
// Wait has already returned.
func (g *Group) Spawn(fn Coroutine, opts ...TaskOption) (TaskID, error) {
	if g.closed {
		return 0, ErrGroupClosed
	}
	opts = append(opts, withGroup(g))
	id := g.sched.Spawn(fn, opts...)
	g.sched.post(func(s *Scheduler) {
		if g.closed {
			s.doCancel(id, ErrGroupClosed)
			return
		}
		g.children[id] = struct{}{}
		g.remaining++
		g.scope.addMember(id)
	})
	return id, nil
}

// onChildDone is invoked by Scheduler.completeTask for every task whose
// group is g.
func (g *Group) onChildDone(s *Scheduler, t *Task) {
	if _, ok := g.children[t.id]; !ok {
		return
	}
	delete(g.children, t.id)
	g.remaining--
	g.results[t.id] = t.result
	if t.exception != nil {
		// A member cancelled to satisfy the group's own policy (the "any"/
		// "object" short-circuit, or remaining members swept up at close)
		// is not an error of the group — spec §4.7: "their CancelledError
		// is not considered an error of the group".
		if !isCancellation(t.exception) {
			g.errs = append(g.errs, t.exception)
		}
	} else if g.winner == 0 {
		g.winner = t.id
	}

	switch g.policy {
	case WaitAny:
		if !g.done {
			g.done = true
			g.cancelRemaining(s)
		}
	case WaitObject:
		if t.exception == nil && !g.done {
			g.done = true
			g.cancelRemaining(s)
		}
	}

	if g.remaining == 0 {
		g.done = true
	}

	if g.done && g.waiter != nil {
		waiter := g.waiter
		g.waiter = nil
		s.wake(waiter, g.results, g.aggregateError())
	}
}

func (g *Group) cancelRemaining(s *Scheduler) {
	for id := range g.children {
		s.doCancel(id, errors.New("group policy satisfied"))
	}
}

// Exception returns the first exception raised by a member, or nil if
// none has raised (spec §4.7 "group's exception()").
func (g *Group) Exception() error {
	if len(g.errs) == 0 {
		return nil
	}
	return g.errs[0]
}

// Exceptions returns every exception raised by a member, in completion
// order, excluding cancellations the group itself induced (spec §4.7
// "exceptions list for inspection").
func (g *Group) Exceptions() []error {
	if len(g.errs) == 0 {
		return nil
	}
	out := make([]error, len(g.errs))
	copy(out, g.errs)
	return out
}

// aggregateError returns the error WaitGroup re-raises: spec §4.7 "the
// group re-raises the first exception at context exit; further
// exceptions are preserved in an exceptions list for inspection" — so
// this is g.errs[0], not every member's error joined together. The full
// list remains available via Exceptions.
func (g *Group) aggregateError() error {
	switch g.policy {
	case WaitObject:
		if g.winner != 0 {
			return nil
		}
	}
	if len(g.errs) == 0 {
		return nil
	}
	return g.errs[0]
}

// WaitGroup suspends the calling task (which must be g's owner) until
// g's WaitPolicy is satisfied, then closes the group: any further Spawn
// fails with ErrGroupClosed, and remaining children (if any) are
// cancelled.
func (c *TaskContext) WaitGroup(g *Group) (map[TaskID]any, error) {
	value, err := c.suspend(func(t *Task, s *Scheduler) {
		if g.policy == WaitNone || g.remaining == 0 {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			return
		}
		t.state.Store(TaskSuspended)
		g.waiter = t
		s.addCancelHook(t.id, func() {
			if g.waiter == t {
				g.waiter = nil
			}
		})
	})

	g.sched.post(func(s *Scheduler) {
		g.closed = true
		g.cancelRemaining(s)
	})

	if value != nil {
		if m, ok := value.(map[TaskID]any); ok {
			return m, err
		}
	}
	return g.results, err
}

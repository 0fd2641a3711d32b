package taskloop

// Semaphore is a counting semaphore (spec §4.6): Acquire parks while the
// count is zero, Release increments it and wakes the longest-waiting
// parked acquirer. It also satisfies Scope, so callers can use it as a
// bounded-concurrency context manager.
type Semaphore struct {
	sched   *Scheduler
	value   int
	waiters []*Task
}

// NewSemaphore creates a Semaphore with the given initial count.
func (s *Scheduler) NewSemaphore(initial int) *Semaphore {
	return &Semaphore{sched: s, value: initial}
}

// Acquire suspends the calling task until the semaphore's count is
// positive, then decrements it.
func (c *TaskContext) Acquire(sem *Semaphore) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		if sem.value > 0 {
			sem.value--
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			return
		}
		t.state.Store(TaskSuspended)
		sem.waiters = append(sem.waiters, t)
		s.addCancelHook(t.id, func() {
			for i, w := range sem.waiters {
				if w.id == t.id {
					sem.waiters = append(sem.waiters[:i], sem.waiters[i+1:]...)
					break
				}
			}
		})
	})
	return err
}

// Release increments the semaphore's count, waking the longest-waiting
// parked Acquire call if any.
func (sem *Semaphore) Release() {
	sem.sched.post(func(s *Scheduler) {
		if len(sem.waiters) > 0 {
			next := sem.waiters[0]
			sem.waiters = sem.waiters[1:]
			s.wake(next, nil, nil)
			return
		}
		sem.value++
	})
}

// Locked reports whether the semaphore's count is currently zero.
func (sem *Semaphore) Locked() bool { return sem.value == 0 }

// semaphoreScope adapts Acquire/Release to the Scope interface for a
// specific TaskContext, so a Semaphore can be used with a defer'd Exit.
type semaphoreScope struct {
	ctx *TaskContext
	sem *Semaphore
}

// Scoped returns a Scope that Acquires on Enter and Releases on Exit.
func (sem *Semaphore) Scoped(ctx *TaskContext) Scope {
	return &semaphoreScope{ctx: ctx, sem: sem}
}

func (s *semaphoreScope) Enter() error       { return s.ctx.Acquire(s.sem) }
func (s *semaphoreScope) Exit(err error) error { s.sem.Release(); return err }

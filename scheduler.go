package taskloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fdWaitKey identifies a parked reactor wait.
type fdWaitKey struct {
	fd  int
	dir IODirection
}

// Scheduler is the single-threaded cooperative task runtime (spec §4.1).
// Exactly one goroutine — whichever called Run — drives scheduling
// decisions; task coroutines run on their own goroutines but are gated
// so only one executes user code at a time.
type Scheduler struct {
	nextID atomic.Uint64

	tasks map[TaskID]*Task
	ready *taskQueue
	timers timerHeap

	reactor   Reactor
	fdWaiters map[fdWaitKey]*Task

	registry *Registry

	logger     Logger
	metrics    *Metrics
	tickBudget int

	// post is the cross-goroutine submission queue: anything that
	// mutates scheduler-owned state from outside the driving goroutine
	// (Spawn/Cancel called from a task's own goroutine, or from the
	// subprocess reaper/signal monitor) appends a closure here instead of
	// touching tasks/ready/timers directly. Adapted from eventloop/
	// loop.go's external ChunkedIngress + externalMu pattern.
	postMu sync.Mutex
	posted []func(*Scheduler)

	// cancelHooks lets a waitable primitive (channel, queue, event,
	// semaphore, group) register cleanup to run if a parked task is
	// cancelled out from under it, so the task is removed from the
	// primitive's internal waiter FIFO instead of leaking there forever.
	cancelHooks map[TaskID][]func()

	runningTask *Task
	liveCount   int // non-stateless, non-terminal task count

	running atomic.Bool

	shutdownErrs []error

	startTime time.Time
	nowFunc   func() time.Time
}

// New creates a Scheduler. A platform Reactor is created automatically;
// use WithReactor (via options) to supply a custom one, e.g. in tests.
func New(opts ...SchedulerOption) *Scheduler {
	cfg := resolveSchedulerOptions(opts)

	s := &Scheduler{
		tasks:     make(map[TaskID]*Task),
		ready:     newTaskQueue(),
		fdWaiters:   make(map[fdWaitKey]*Task),
		registry:    newRegistry(),
		cancelHooks: make(map[TaskID][]func()),
		logger:      cfg.logger,
		tickBudget:  cfg.tickBudget,
		nowFunc:     time.Now,
	}
	if cfg.metricsEnabled {
		s.metrics = newMetrics()
	}
	reactor, err := newPlatformReactor()
	if err != nil {
		s.logger.Log(LevelWarn, "reactor unavailable, fd-backed waits will error", F("error", err))
	}
	s.reactor = reactor
	return s
}

func (s *Scheduler) now() time.Time { return s.nowFunc() }

// Registry returns the scheduler's named-task factory registry (spec §9
// "Global name registry").
func (s *Scheduler) Registry() *Registry { return s.registry }

// Metrics returns the scheduler's metrics collector, or nil if metrics
// were not enabled via WithSchedulerMetrics.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// post queues fn to run on the scheduler's driving goroutine. Safe to
// call from any goroutine, including from within a running task.
func (s *Scheduler) post(fn func(*Scheduler)) {
	s.postMu.Lock()
	s.posted = append(s.posted, fn)
	s.postMu.Unlock()
	if s.reactor != nil {
		_ = s.reactor.Wake()
	}
}

// Dispatch queues fn to run on the scheduler's driving goroutine, for
// external producers (signal handlers, subprocess reapers) that need to
// safely touch scheduler state without becoming a task themselves.
func (s *Scheduler) Dispatch(fn func()) {
	s.post(func(*Scheduler) { fn() })
}

func (s *Scheduler) drainPosted() {
	s.postMu.Lock()
	posted := s.posted
	s.posted = nil
	s.postMu.Unlock()
	for _, fn := range posted {
		fn(s)
	}
}

// Spawn creates a new task running fn and returns its id immediately.
// Safe to call before Run, from within a running task, or from any other
// goroutine.
func (s *Scheduler) Spawn(fn Coroutine, opts ...TaskOption) TaskID {
	cfg := resolveTaskOptions(opts)
	id := TaskID(s.nextID.Add(1))

	t := &Task{
		id:        id,
		sched:     s,
		kind:      cfg.kind,
		name:      cfg.name,
		coroutine: fn,
		state:     newAtomicTaskState(TaskPending),
		requestCh: make(chan KernelRequest),
		resumeCh:  make(chan resumeSignal),
		group:     cfg.group,
	}

	s.post(func(s *Scheduler) {
		s.tasks[id] = t
		if t.kind != KindStateless {
			s.liveCount++
		}
		t.state.Store(TaskReady)
		s.ready.Push(id)
		if cfg.name != "" {
			s.registry.bindRunning(cfg.name, id)
		}
	})
	return id
}

// Cancel delivers a cancellation to id at its next suspension point
// (spec §4.2). Idempotent once the task has terminated.
func (s *Scheduler) Cancel(id TaskID, reason error) error {
	s.post(func(s *Scheduler) {
		s.doCancel(id, reason)
	})
	return nil
}

func (s *Scheduler) doCancel(id TaskID, reason error) {
	t, ok := s.tasks[id]
	if !ok || t.state.Load().IsTerminal() {
		return // idempotent past termination, and unknown ids are no-ops
	}
	if t.stopSignal != nil {
		t.stopSignal() // spec §4.2: subprocess-owning task is signaled first
	}
	t.pendingException = &CancelledError{Reason: reason}
	s.wakeForCancel(t)
}

// wakeForCancel moves t to the ready queue regardless of its current
// parked location, removing it from whatever waiter FIFO it sat in.
func (s *Scheduler) wakeForCancel(t *Task) {
	switch t.state.Load() {
	case TaskSuspended:
		s.unparkFromWaitable(t)
		t.state.Store(TaskReady)
		s.ready.Push(t.id)
	case TaskReady:
		// already queued; pendingException will be delivered on next resume
	case TaskRunning:
		// delivered automatically at its next suspension point
	case TaskPending:
		t.state.Store(TaskReady)
		s.ready.Push(t.id)
	}
}

// unparkFromWaitable removes t from whatever waitable it is parked on
// (timer, reactor, channel, queue, event, semaphore, group, awaiter
// slot), per spec §4.2's cancellation-of-parked-task rule.
func (s *Scheduler) unparkFromWaitable(t *Task) {
	if t.timerHandle != nil {
		s.cancelTimer(t.timerHandle)
		t.timerHandle = nil
	}
	if t.waitingIO {
		key := fdWaitKey{fd: t.waitedFD, dir: t.waitedDir}
		delete(s.fdWaiters, key)
		t.waitingIO = false
	}
	if t.cancelScope != nil {
		t.cancelScope.removeMember(t.id)
	}
	// Channel/queue/event/semaphore/group waiter-list membership is
	// removed by each primitive's own cancellation hook, registered via
	// onCancelHooks (see scope.go); invoked here so cancellation always
	// cleans up regardless of which waitable a task was parked on.
	if hooks, ok := s.cancelHooks[t.id]; ok {
		for _, h := range hooks {
			h()
		}
		delete(s.cancelHooks, t.id)
	}
}

// addCancelHook registers fn to run if id is cancelled while parked on a
// waitable that isn't the timer heap, fd reactor, or a cancel scope
// (those are handled directly by unparkFromWaitable). Channels, queues,
// events, semaphores, and groups call this when parking a waiter.
func (s *Scheduler) addCancelHook(id TaskID, fn func()) {
	s.cancelHooks[id] = append(s.cancelHooks[id], fn)
}

// clearCancelHooks drops id's registered cleanup without running it,
// used when a waitable resolves a parked task itself (e.g. a send
// rendezvous completing normally) instead of via cancellation.
func (s *Scheduler) clearCancelHooks(id TaskID) {
	delete(s.cancelHooks, id)
}

// join parks the calling task as the awaiter of target (used by
// TaskContext.Join).
func (s *Scheduler) parkAwaiter(caller *Task, target TaskID) {
	targetTask, ok := s.tasks[target]
	if !ok {
		caller.state.Store(TaskReady)
		s.ready.Push(caller.id)
		caller.pendingException = &InvalidStateError{TaskID: target, Detail: "unknown or already collected"}
		return
	}
	if targetTask.state.Load().IsTerminal() {
		caller.state.Store(TaskReady)
		s.ready.Push(caller.id)
		caller.inbox = targetTask.result
		caller.pendingException = targetTask.exception
		return
	}
	targetTask.awaiter = caller.id
	caller.state.Store(TaskSuspended)
}

// wake delivers value/err to a suspended task and moves it to the ready
// queue. If t has an armed timer of its own (e.g. a WaitFor deadline
// racing the waitable that just resolved it), that timer is disarmed:
// by the scheduler's single-waitable-per-task invariant, a task only
// reaches wake() with a live timerHandle when something other than that
// timer resolved it first.
func (s *Scheduler) wake(t *Task, value any, err error) {
	if t.timerHandle != nil {
		s.cancelTimer(t.timerHandle)
		t.timerHandle = nil
	}
	if err != nil {
		t.pendingException = err
	} else {
		t.inbox = value
	}
	t.state.Store(TaskReady)
	s.ready.Push(t.id)
	s.clearCancelHooks(t.id)
}

// completeTask records a task's terminal result and delivers it to its
// awaiter or group (spec §4.1 "Result delivery").
func (s *Scheduler) completeTask(t *Task, value any, err error) {
	var finalState TaskState
	switch {
	case err != nil:
		var se SignaledError
		var ce *CancelledError
		switch {
		case errors.As(err, &se):
			finalState = TaskSignaled
		case errors.As(err, &ce):
			finalState = TaskCancelled
		default:
			finalState = TaskErred
		}
	default:
		finalState = TaskCompleted
	}
	t.state.Store(finalState)
	t.result = value
	t.exception = err

	if t.kind != KindStateless {
		s.liveCount--
	} else if err != nil {
		s.logger.Log(LevelDebug, "stateless task failed, not propagated", F("task", t.id), F("error", err))
	}

	if t.awaiter != 0 {
		awaiter, ok := s.tasks[t.awaiter]
		t.awaiter = 0
		if ok {
			s.wake(awaiter, value, err)
		}
	} else if t.group != nil {
		t.group.onChildDone(s, t)
	} else if err != nil && t.kind != KindStateless && len(t.gatherWaiters) == 0 {
		s.shutdownErrs = append(s.shutdownErrs, WrapError("unawaited task failed", err))
	}

	for _, gs := range t.gatherWaiters {
		s.gatherOnChildDone(gs, t)
	}
	t.gatherWaiters = nil

	s.registry.unbind(t.id)
	if s.metrics != nil {
		s.metrics.recordCompletion(finalState)
	}
}

// stepTask drives task through one or more scheduler-goroutine
// round-trips until it parks, yields back to the ready queue, or
// terminates.
func (s *Scheduler) stepTask(t *Task) {
	s.runningTask = t
	defer func() { s.runningTask = nil }()

	if !t.started {
		t.started = true
		// A task cancelled after Spawn but before its first step (e.g.
		// swept up by a group/scope closing before it ever ran) must
		// never execute its coroutine body at all — deliver the pending
		// cancellation directly instead of launching it.
		if t.pendingException != nil {
			err := t.pendingException
			t.pendingException = nil
			s.completeTask(t, nil, err)
			return
		}
		go t.run()
	} else {
		t.resumeCh <- s.nextResumeSignal(t)
	}

	for {
		req := <-t.requestCh
		// t's own goroutine may have called Spawn/post-based methods
		// (group bookkeeping, Event.Set, Semaphore.Release, ...) since it
		// last yielded control; those only queued a closure onto s.posted
		// (thread-safe but deferred). Flush them now, before req runs, so
		// a suspension point that immediately depends on that state (e.g.
		// joining a task spawned earlier in this same step) observes it.
		// Safe here because the driving goroutine has no other work in
		// flight while t's goroutine was running un-suspended.
		s.drainPosted()
		req(t, s)
		if t.state.Load() != TaskRunning {
			return
		}
		t.resumeCh <- s.nextResumeSignal(t)
	}
}

// nextResumeSignal builds the value to inject on a task's next resume,
// per spec §3: pendingException always wins over inbox and is cleared
// exactly once it is delivered.
func (s *Scheduler) nextResumeSignal(t *Task) resumeSignal {
	if t.pendingException != nil {
		err := t.pendingException
		t.pendingException = nil
		return resumeSignal{err: err}
	}
	value := t.inbox
	t.inbox = nil
	return resumeSignal{value: value}
}

// CurrentTask returns the id of the task currently executing on the
// scheduler's driving goroutine, or 0 if called outside a step (e.g.
// from Run's caller before any task has started).
func (s *Scheduler) CurrentTask() TaskID {
	if s.runningTask == nil {
		return 0
	}
	return s.runningTask.id
}

// ResultOf returns the terminal result/error of id. ok is false if the
// task is unknown or has not yet terminated.
func (s *Scheduler) ResultOf(id TaskID) (value any, err error, ok bool) {
	t, found := s.tasks[id]
	if !found || !t.state.Load().IsTerminal() {
		return nil, nil, false
	}
	return t.result, t.exception, true
}

// Run starts the scheduler: spawns entry, then steps tasks, timers, and
// reactor events until entry and every non-stateless task it spawned
// (transitively) are terminal. Run may only be called once and must not
// be called from within a task running on this scheduler.
func (s *Scheduler) Run(entry Coroutine) error {
	if s.runningTask != nil {
		return ErrReentrantRun
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerAlreadyRunning
	}
	defer s.running.Store(false)

	s.startTime = s.now()
	entryID := s.Spawn(entry)

	for {
		s.drainPosted()

		stepped := 0
		for s.tickBudget <= 0 || stepped < s.tickBudget {
			id, ok := s.ready.Pop()
			if !ok {
				break
			}
			t, found := s.tasks[id]
			if !found {
				continue
			}
			if t.state.Load() != TaskReady {
				continue
			}
			t.state.Store(TaskRunning)
			tickStart := s.now()
			s.stepTask(t)
			if s.metrics != nil {
				s.metrics.recordStep(s.now().Sub(tickStart))
			}
			stepped++
			s.drainPosted()
		}
		if stepped > 0 {
			continue
		}

		if s.liveCount == 0 {
			break
		}

		deadline, hasTimer := s.nextTimerDeadline()
		maxBlock := time.Duration(-1)
		if hasTimer {
			maxBlock = deadline.Sub(s.now())
			if maxBlock < 0 {
				maxBlock = 0
			}
		}

		if s.reactor == nil {
			if !hasTimer {
				// Nothing can ever wake remaining tasks: avoid an infinite
				// block with no reactor and no timer armed.
				break
			}
			time.Sleep(maxBlock)
			s.drainDueTimers()
			continue
		}

		ready, err := s.reactor.Poll(maxBlock)
		if err != nil {
			s.logger.Log(LevelError, "reactor poll failed", F("error", err))
		}
		// Timers precede I/O within the same quiescent cycle (spec §4.3).
		s.drainDueTimers()
		for _, r := range ready {
			s.wakeFromIO(r)
		}
	}

	_, _, _ = s.ResultOf(entryID)
	if len(s.shutdownErrs) > 0 {
		return errors.Join(s.shutdownErrs...)
	}
	return nil
}

func (s *Scheduler) wakeFromIO(r ReadyFD) {
	key := fdWaitKey{fd: r.FD, dir: r.Direction}
	t, ok := s.fdWaiters[key]
	if !ok {
		return
	}
	delete(s.fdWaiters, key)
	t.waitingIO = false
	s.wake(t, r, nil)
}

// Shutdown cancels every non-terminal task except the one named by
// except (pass 0 to cancel everything), then lets Run's loop continue
// draining them to completion.
func (s *Scheduler) Shutdown(except TaskID) error {
	s.post(func(s *Scheduler) {
		for id, t := range s.tasks {
			if id == except || t.state.Load().IsTerminal() {
				continue
			}
			s.doCancel(id, errors.New("scheduler shutdown"))
		}
	})
	return nil
}

// WaitReadable suspends the calling task until fd becomes readable.
func (c *TaskContext) WaitReadable(fd int) (any, error) {
	return c.suspend(func(t *Task, s *Scheduler) {
		if s.reactor == nil {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = ErrReactorUnsupported
			return
		}
		if err := s.reactor.AddReader(fd); err != nil {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = err
			return
		}
		t.state.Store(TaskSuspended)
		t.waitingIO = true
		t.waitedFD = fd
		t.waitedDir = IORead
		s.fdWaiters[fdWaitKey{fd: fd, dir: IORead}] = t
	})
}

// WaitWritable suspends the calling task until fd becomes writable.
func (c *TaskContext) WaitWritable(fd int) (any, error) {
	return c.suspend(func(t *Task, s *Scheduler) {
		if s.reactor == nil {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = ErrReactorUnsupported
			return
		}
		if err := s.reactor.AddWriter(fd); err != nil {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = err
			return
		}
		t.state.Store(TaskSuspended)
		t.waitingIO = true
		t.waitedFD = fd
		t.waitedDir = IOWrite
		s.fdWaiters[fdWaitKey{fd: fd, dir: IOWrite}] = t
	})
}

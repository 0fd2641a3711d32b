package taskloop

import "time"

// TaskID uniquely identifies a Task within a Scheduler. Zero is never a
// valid id; it is used as the "no task" sentinel (e.g. an unset
// awaiter).
type TaskID uint64

// Coroutine is the unit of work a Task runs. It receives a TaskContext
// through which it issues suspension points (Sleep, Yield, Join, ...)
// and returns its final value or error on completion.
//
// Coroutine runs on its own goroutine, but that goroutine only ever
// executes between two points the Scheduler controls: immediately after
// being resumed, and up to its next call into TaskContext (or return).
// This reproduces single-threaded cooperative scheduling on top of a
// real Go stack, the same bridge eventloop's Promisify uses to fold a
// blocking goroutine into loop-driven completion, generalized here into
// the task primitive itself.
type Coroutine func(ctx *TaskContext) (any, error)

// KernelRequest is the object a suspension point hands to the scheduler
// to decide the task's next disposition: park it on some waitable,
// reschedule it, or schedule other tasks. The scheduler never implicitly
// reschedules the current task after a KernelRequest runs; the request
// itself is responsible (spec §4.1).
//
// KernelRequest implementations run on the scheduler's single driving
// goroutine and may freely read/write scheduler-owned state (ready
// queue, timer wheel, task table, waiter lists) without locking.
type KernelRequest func(t *Task, s *Scheduler)

// resumeSignal is what the scheduler hands back to a parked task
// goroutine to unblock it: either an injected value (inbox) or an
// injected exception (pendingException, which always wins).
type resumeSignal struct {
	value any
	err   error
}

// Task is the unit of scheduling (spec §3).
type Task struct {
	id    TaskID
	sched *Scheduler
	kind  TaskKind
	name  string

	coroutine Coroutine
	state     *atomicTaskState
	started   bool

	requestCh chan KernelRequest
	resumeCh  chan resumeSignal

	// inbox/pendingException are staged by the scheduler and consumed on
	// the task's next resume; pendingException always wins over inbox and
	// must not be silently cleared without being delivered.
	inbox            any
	pendingException error

	result    any
	exception error

	awaiter TaskID
	group   *Group

	// gatherWaiters are in-flight Gather calls tracking this task among
	// their target ids; notified in completeTask alongside awaiter/group.
	gatherWaiters []*gatherState

	cancelScope *cancelRegistration

	timerHandle *timerEntry
	waitingIO   bool
	waitedFD    int
	waitedDir   ioDirection

	// childProcess is set by the subprocess package through
	// SetChildProcessHook to mark this task as driven externally
	// (KindParalleled); stored as `any` to avoid an import cycle between
	// taskloop and taskloop/subprocess.
	childProcess any

	// stopSignal, if non-nil, is invoked before cancellation is delivered
	// to a task that owns an active subprocess (spec §4.2: "Cancelling a
	// task that owns an active subprocess first signals the subprocess").
	stopSignal func()
}

// ID returns the task's scheduler-unique id.
func (t *Task) ID() TaskID { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return t.state.Load() }

// Kind returns the task's TaskKind.
func (t *Task) Kind() TaskKind { return t.kind }

// Name returns the name the task was spawned with, or "" if anonymous.
func (t *Task) Name() string { return t.name }

// run is the goroutine body started the first time the scheduler steps
// this task. It is launched exactly once per task.
func (t *Task) run() {
	ctx := &TaskContext{task: t}
	value, err := t.coroutine(ctx)
	t.requestCh <- func(task *Task, s *Scheduler) {
		s.completeTask(task, value, err)
	}
}

// TaskContext is the handle a running Coroutine uses to reach the
// scheduler. All methods are suspension points except CurrentID,
// Scheduler, and Group.
type TaskContext struct {
	task *Task
}

// CurrentID returns the id of the task this context belongs to.
func (c *TaskContext) CurrentID() TaskID { return c.task.ID() }

// Scheduler returns the scheduler running this task.
func (c *TaskContext) Scheduler() *Scheduler { return c.task.sched }

// Group returns the task group this task belongs to, or nil.
func (c *TaskContext) Group() *Group { return c.task.group }

// SetStopSignal registers fn to run before a cancellation is delivered
// to this task, giving an owned subprocess a chance to be signalled
// first (spec §4.2). Pass nil to clear a previously set hook.
func (c *TaskContext) SetStopSignal(fn func()) { c.task.stopSignal = fn }

// SetChildProcess records an opaque handle to a process this task owns,
// retrievable via ChildProcess. Used by the subprocess package to avoid
// an import cycle with taskloop.
func (c *TaskContext) SetChildProcess(v any) { c.task.childProcess = v }

// ChildProcess returns whatever was last passed to SetChildProcess, or
// nil.
func (c *TaskContext) ChildProcess() any { return c.task.childProcess }

// suspend is the generic suspension primitive: it hands req to the
// scheduler and blocks until resumed, returning whatever value/error was
// injected at resume time.
func (c *TaskContext) suspend(req KernelRequest) (any, error) {
	c.task.requestCh <- req
	sig := <-c.task.resumeCh
	return sig.value, sig.err
}

// Yield performs a cooperative tick: the task is rescheduled at the tail
// of the ready queue and resumes once the scheduler gets back around to
// it. Returns a *CancelledError if the task was cancelled while parked.
func (c *TaskContext) Yield() error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		t.state.Store(TaskReady)
		s.ready.Push(t.id)
	})
	return err
}

// Sleep suspends the task until d has elapsed, via the timer wheel.
// Returns a *CancelledError if the task was cancelled before the deadline.
func (c *TaskContext) Sleep(d time.Duration) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		t.state.Store(TaskSuspended)
		t.timerHandle = s.scheduleTimerWake(t, d)
	})
	return err
}

// Join suspends the task until the task named by id reaches a terminal
// state, then returns its result or error (spec §4.1 "Result delivery").
func (c *TaskContext) Join(id TaskID) (any, error) {
	return c.suspend(func(t *Task, s *Scheduler) {
		s.parkAwaiter(t, id)
	})
}

// Package taskloop implements a single-threaded cooperative task runtime:
// a scheduler with an explicit ready queue, a timer wheel, an I/O
// readiness reactor, and the coordination primitives (channels, queues,
// events, semaphores, task groups, gather) built on top of it.
//
// A Scheduler runs exactly one goroutine's worth of user code at a time.
// Parallelism, where it exists at all, comes only from subprocesses
// launched through the taskloop/subprocess package; tasks scheduled on
// the same Scheduler never run concurrently with each other.
//
// # Basic usage
//
//	sched := taskloop.New()
//	id := sched.Spawn(func(c *taskloop.TaskContext) (any, error) {
//	    c.Sleep(100 * time.Millisecond)
//	    return "done", nil
//	})
//	err := sched.Run(func(c *taskloop.TaskContext) (any, error) {
//	    return c.Join(id)
//	})
//
// See the examples/ directory for runnable programs covering timers,
// channels, task groups, gather, and subprocesses.
package taskloop

package taskloop

// Queue is the bounded/unbounded FIFO with join semantics from spec
// §4.5. maxSize <= 0 means unbounded. TaskDone/Join mirror Python's
// queue.Queue: every Put increments an outstanding-work counter that
// TaskDone decrements, and Join parks until the counter reaches zero.
type Queue struct {
	sched *Scheduler

	maxSize int
	items   []any

	putWaiters *waiterQueue
	getWaiters *waiterQueue

	unfinished int
	joinWaiters []*Task
}

// NewQueue creates a Queue. maxSize <= 0 means unbounded.
func (s *Scheduler) NewQueue(maxSize int) *Queue {
	return &Queue{sched: s, maxSize: maxSize, putWaiters: &waiterQueue{}, getWaiters: &waiterQueue{}}
}

// PutNowait enqueues value without blocking, returning ErrQueueFull if
// the queue is at capacity.
func (q *Queue) PutNowait(value any) error {
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, value)
	q.unfinished++
	return nil
}

// GetNowait dequeues a value without blocking, returning ErrQueueEmpty
// if none is available.
func (q *Queue) GetNowait() (any, error) {
	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, nil
}

// Put suspends the calling task until there is room in a bounded queue,
// then enqueues value. On an unbounded queue it never blocks.
func (c *TaskContext) Put(q *Queue, value any) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		if q.maxSize <= 0 || len(q.items) < q.maxSize {
			q.items = append(q.items, value)
			q.unfinished++
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			if getter, ok := q.getWaiters.pop(); ok {
				v, _ := q.GetNowait()
				s.wake(getter.task, v, nil)
			}
			return
		}
		t.state.Store(TaskSuspended)
		q.putWaiters.push(&waiterEntry{task: t, value: value})
		s.addCancelHook(t.id, func() { q.putWaiters.popMatching(t.id) })
	})
	return err
}

// Get suspends the calling task until a value is available, then
// removes and returns it.
func (c *TaskContext) Get(q *Queue) (any, error) {
	return c.suspend(func(t *Task, s *Scheduler) {
		if len(q.items) > 0 {
			v, _ := q.GetNowait()
			t.state.Store(TaskReady)
			t.inbox = v
			s.ready.Push(t.id)
			if putter, ok := q.putWaiters.pop(); ok {
				_ = q.PutNowait(putter.value)
				s.wake(putter.task, nil, nil)
			}
			return
		}
		t.state.Store(TaskSuspended)
		q.getWaiters.push(&waiterEntry{task: t})
		s.addCancelHook(t.id, func() { q.getWaiters.popMatching(t.id) })
	})
}

// TaskDone signals that a previously Get'd (or GetNowait'd) item of work
// is complete, decrementing the outstanding-work counter and waking any
// Join waiters once it reaches zero.
func (c *TaskContext) TaskDone(q *Queue) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		t.state.Store(TaskReady)
		s.ready.Push(t.id)
		if q.unfinished == 0 {
			t.pendingException = ErrTaskDoneUnderflow
			return
		}
		q.unfinished--
		if q.unfinished == 0 {
			for _, waiter := range q.joinWaiters {
				s.wake(waiter, nil, nil)
			}
			q.joinWaiters = nil
		}
	})
	return err
}

// JoinQueue suspends the calling task until every item Put so far has had
// a matching TaskDone.
func (c *TaskContext) JoinQueue(q *Queue) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		if q.unfinished == 0 {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			return
		}
		t.state.Store(TaskSuspended)
		q.joinWaiters = append(q.joinWaiters, t)
		s.addCancelHook(t.id, func() {
			for i, w := range q.joinWaiters {
				if w.id == t.id {
					q.joinWaiters = append(q.joinWaiters[:i], q.joinWaiters[i+1:]...)
					break
				}
			}
		})
	})
	return err
}

package taskloop

// Channel is the rendezvous primitive from spec §4.4: Send blocks until
// a Receive is ready to take the value (or the Channel is closed), and
// vice versa. At most one sender and one receiver may be parked on a
// Channel at a time; a second concurrent Send or Receive call is queued
// FIFO behind the first.
type Channel struct {
	sched *Scheduler

	senders   *waiterQueue
	receivers *waiterQueue

	closed    bool
	closeErr  error
}

type waiterQueue struct {
	items []*waiterEntry
}

type waiterEntry struct {
	task  *Task
	value any
}

func (q *waiterQueue) push(e *waiterEntry) { q.items = append(q.items, e) }

func (q *waiterQueue) popMatching(id TaskID) (*waiterEntry, bool) {
	for i, e := range q.items {
		if e.task.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

func (q *waiterQueue) pop() (*waiterEntry, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// NewChannel creates an unbuffered rendezvous channel.
func (s *Scheduler) NewChannel() *Channel {
	return &Channel{sched: s, senders: &waiterQueue{}, receivers: &waiterQueue{}}
}

// Send suspends the calling task until a receiver takes value, or the
// channel is closed (returns ErrChannelClosed), or the task is cancelled.
// Equivalent to SendTo with no target: the parked receiver at the head
// of the FIFO (if any) takes the value.
func (c *TaskContext) Send(ch *Channel, value any) error {
	return c.sendTo(ch, 0, value)
}

// SendTo suspends the calling task the same as Send, but when targetID
// names a task currently parked as a receiver on ch, injects value
// directly into that task instead of the FIFO head (spec §4.4's
// "send(value, target_id?)"). If targetID is not currently parked as a
// receiver, SendTo falls back to Send's ordinary FIFO-head behavior.
func (c *TaskContext) SendTo(ch *Channel, targetID TaskID, value any) error {
	return c.sendTo(ch, targetID, value)
}

func (c *TaskContext) sendTo(ch *Channel, targetID TaskID, value any) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		if ch.closed {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = ErrChannelClosed
			return
		}
		var recv *waiterEntry
		var ok bool
		if targetID != 0 {
			recv, ok = ch.receivers.popMatching(targetID)
		}
		if !ok {
			recv, ok = ch.receivers.pop()
		}
		if ok {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			s.wake(recv.task, value, nil)
			return
		}
		t.state.Store(TaskSuspended)
		ch.senders.push(&waiterEntry{task: t, value: value})
		s.addCancelHook(t.id, func() { ch.senders.popMatching(t.id) })
	})
	return err
}

// Receive suspends the calling task until a value is sent, returning
// ErrChannelClosed once the channel is closed and drained.
func (c *TaskContext) Receive(ch *Channel) (any, error) {
	return c.suspend(func(t *Task, s *Scheduler) {
		if send, ok := ch.senders.pop(); ok {
			t.state.Store(TaskReady)
			t.inbox = send.value
			s.ready.Push(t.id)
			s.wake(send.task, nil, nil)
			return
		}
		if ch.closed {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			t.pendingException = ErrChannelClosed
			return
		}
		t.state.Store(TaskSuspended)
		ch.receivers.push(&waiterEntry{task: t})
		s.addCancelHook(t.id, func() { ch.receivers.popMatching(t.id) })
	})
}

// Close marks ch closed: every currently parked sender and receiver is
// woken with ErrChannelClosed, and all future Send/Receive calls fail
// immediately.
func (ch *Channel) Close() {
	ch.sched.post(func(s *Scheduler) {
		if ch.closed {
			return
		}
		ch.closed = true
		for {
			w, ok := ch.senders.pop()
			if !ok {
				break
			}
			s.wake(w.task, nil, ErrChannelClosed)
		}
		for {
			w, ok := ch.receivers.pop()
			if !ok {
				break
			}
			s.wake(w.task, nil, ErrChannelClosed)
		}
	})
}

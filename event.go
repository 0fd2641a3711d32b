package taskloop

// Event is a one-shot latch (spec §4.6): Wait parks until Set is called;
// Set wakes every current and future Wait caller (until Clear resets it).
type Event struct {
	sched   *Scheduler
	isSet   bool
	waiters []*Task
}

// NewEvent creates an unset Event.
func (s *Scheduler) NewEvent() *Event {
	return &Event{sched: s}
}

// Wait suspends the calling task until the event is set. Returns
// immediately if it is already set.
func (c *TaskContext) Wait(ev *Event) error {
	_, err := c.suspend(func(t *Task, s *Scheduler) {
		if ev.isSet {
			t.state.Store(TaskReady)
			s.ready.Push(t.id)
			return
		}
		t.state.Store(TaskSuspended)
		ev.waiters = append(ev.waiters, t)
		s.addCancelHook(t.id, func() {
			for i, w := range ev.waiters {
				if w.id == t.id {
					ev.waiters = append(ev.waiters[:i], ev.waiters[i+1:]...)
					break
				}
			}
		})
	})
	return err
}

// Set marks ev set and wakes every currently parked waiter.
func (ev *Event) Set() {
	ev.sched.post(func(s *Scheduler) {
		if ev.isSet {
			return
		}
		ev.isSet = true
		for _, w := range ev.waiters {
			s.wake(w, nil, nil)
		}
		ev.waiters = nil
	})
}

// Clear resets ev to unset. Future Wait calls will park again until the
// next Set.
func (ev *Event) Clear() {
	ev.sched.post(func(s *Scheduler) {
		ev.isSet = false
	})
}

// IsSet reports whether ev is currently set.
func (ev *Event) IsSet() bool { return ev.isSet }

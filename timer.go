package taskloop

import (
	"container/heap"
	"time"
)

// timerEntry is a single scheduled wake, adapted from eventloop/loop.go's
// timer/timerHeap (container/heap over time.Time deadlines), generalized
// to carry a TaskID and wake reason instead of a bare closure.
type timerEntry struct {
	deadline time.Time
	task     *Task
	// oneshotCallback, if set, is invoked instead of/in addition to
	// waking task — used by WaitFor/TimeoutAfter to arm a timeout whose
	// firing cancels a subtask rather than directly resuming a parked
	// task (spec §3 "Timer-wheel entry").
	oneshotCallback func()
	index           int // heap index, maintained by container/heap
	cancelled       bool
}

// timerHeap is a min-heap of timerEntry ordered by deadline.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// scheduleTimerWake arms a timer that, on firing, moves task back to the
// ready queue with no injected value (a plain Sleep wake). Must run on
// the scheduler goroutine.
func (s *Scheduler) scheduleTimerWake(task *Task, d time.Duration) *timerEntry {
	e := &timerEntry{deadline: s.now().Add(d), task: task}
	heap.Push(&s.timers, e)
	return e
}

// scheduleTimerCallback arms a timer that invokes cb on firing instead of
// directly waking a task; used for timeouts that need to cancel a
// subtask rather than resume the waiter themselves.
func (s *Scheduler) scheduleTimerCallback(d time.Duration, cb func()) *timerEntry {
	e := &timerEntry{deadline: s.now().Add(d), oneshotCallback: cb}
	heap.Push(&s.timers, e)
	return e
}

// cancelTimer disarms e so it is skipped when popped, without needing an
// O(log n) heap removal (lazy deletion, checked in drainDueTimers).
func (s *Scheduler) cancelTimer(e *timerEntry) {
	if e != nil {
		e.cancelled = true
	}
}

// nextTimerDeadline returns the time the earliest live timer fires, and
// ok=false if no timers are armed.
func (s *Scheduler) nextTimerDeadline() (time.Time, bool) {
	for len(s.timers) > 0 {
		top := s.timers[0]
		if top.cancelled {
			heap.Pop(&s.timers)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// drainDueTimers pops and fires every timer whose deadline is <= now,
// waking the owning task (pushing it to the ready queue) or invoking its
// oneshot callback. Spec §4.3: timers are delivered before I/O within
// the same quiescent cycle, which the caller (Scheduler.tick) honors by
// calling this before processing reactor-ready fds.
func (s *Scheduler) drainDueTimers() {
	now := s.now()
	for len(s.timers) > 0 {
		top := s.timers[0]
		if top.cancelled {
			heap.Pop(&s.timers)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&s.timers)
		if top.oneshotCallback != nil {
			top.oneshotCallback()
			continue
		}
		task := top.task
		if task.timerHandle == top {
			task.timerHandle = nil
		}
		if task.state.Load() == TaskSuspended {
			s.wake(task, nil, nil)
		}
	}
}

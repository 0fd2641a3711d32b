package subprocess

import (
	"os"
	"os/signal"
	"sync"

	taskloop "github.com/joeycumines/go-taskloop"
)

// SignalMonitor delivers OS signals to a scheduler as ordinary task
// wakeups, via signal.Notify feeding a dedicated goroutine that posts
// into the scheduler — the same "external async event becomes a single
// scheduler-goroutine callback" shape every other cross-goroutine
// producer in this module uses (spec §6 "signal monitor").
type SignalMonitor struct {
	sched *taskloop.Scheduler
	ch    chan os.Signal

	mu       sync.Mutex
	watchers map[TaskID]func(os.Signal)
}

// TaskID is a re-export of taskloop.TaskID for callers that only import
// the subprocess package.
type TaskID = taskloop.TaskID

// NewSignalMonitor starts watching sigs and reporting them to sched.
// Stop must be called to release the underlying signal.Notify
// registration.
func NewSignalMonitor(sched *taskloop.Scheduler, sigs ...os.Signal) *SignalMonitor {
	m := &SignalMonitor{
		sched:    sched,
		ch:       make(chan os.Signal, 8),
		watchers: make(map[TaskID]func(os.Signal)),
	}
	signal.Notify(m.ch, sigs...)
	go m.loop()
	return m
}

func (m *SignalMonitor) loop() {
	for sig := range m.ch {
		s := sig
		m.sched.Dispatch(func() {
			m.mu.Lock()
			watchers := make([]func(os.Signal), 0, len(m.watchers))
			for _, w := range m.watchers {
				watchers = append(watchers, w)
			}
			m.mu.Unlock()
			for _, w := range watchers {
				w(s)
			}
		})
	}
}

// Watch registers fn to be called, on the scheduler's driving goroutine,
// whenever a watched signal arrives. Returns a token id used with
// Unwatch.
func (m *SignalMonitor) Watch(id TaskID, fn func(os.Signal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[id] = fn
}

// Unwatch removes a previously registered watcher.
func (m *SignalMonitor) Unwatch(id TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers, id)
}

// Stop halts signal delivery and releases the OS registration.
func (m *SignalMonitor) Stop() {
	signal.Stop(m.ch)
	close(m.ch)
}

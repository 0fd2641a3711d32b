package taskloop

import "time"

// Metrics tracks scheduler throughput and latency for observability,
// adapted from eventloop/metrics.go and psquare.go. Only populated when
// a Scheduler is constructed with WithSchedulerMetrics; nil otherwise so
// the hot step loop never pays for what it doesn't use.
type Metrics struct {
	stepLatencyP50 *pSquareQuantile
	stepLatencyP99 *pSquareQuantile

	completed  uint64
	erred      uint64
	cancelled  uint64
	signaled   uint64
}

func newMetrics() *Metrics {
	return &Metrics{
		stepLatencyP50: newPSquareQuantile(0.50),
		stepLatencyP99: newPSquareQuantile(0.99),
	}
}

func (m *Metrics) recordStep(d time.Duration) {
	micros := float64(d.Microseconds())
	m.stepLatencyP50.Update(micros)
	m.stepLatencyP99.Update(micros)
}

func (m *Metrics) recordCompletion(state TaskState) {
	switch state {
	case TaskCompleted:
		m.completed++
	case TaskErred:
		m.erred++
	case TaskCancelled:
		m.cancelled++
	case TaskSignaled:
		m.signaled++
	}
}

// Snapshot is a point-in-time read of Metrics, safe to retain.
type Snapshot struct {
	StepLatencyP50Micros float64
	StepLatencyP99Micros float64
	StepCount            int
	Completed            uint64
	Erred                uint64
	Cancelled            uint64
	Signaled             uint64
}

// Snapshot reads the current metric values. Must be called from the
// scheduler's driving goroutine, same as every other Metrics access.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		StepLatencyP50Micros: m.stepLatencyP50.Quantile(),
		StepLatencyP99Micros: m.stepLatencyP99.Quantile(),
		StepCount:            m.stepLatencyP50.Count(),
		Completed:            m.completed,
		Erred:                m.erred,
		Cancelled:            m.cancelled,
		Signaled:             m.signaled,
	}
}

package taskloop

// schedulerOptions holds configuration resolved by SchedulerOption values.
type schedulerOptions struct {
	logger         Logger
	metricsEnabled bool
	tickBudget     int
}

// SchedulerOption configures a Scheduler created by New.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithLogger sets the structured logger the scheduler reports lifecycle
// and error events to. Defaults to a no-op logger.
func WithLogger(l Logger) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.logger = l })
}

// WithSchedulerMetrics enables tick-latency and queue-depth metrics
// collection, retrievable via Scheduler.Metrics.
func WithSchedulerMetrics(enabled bool) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.metricsEnabled = enabled })
}

// WithTickBudget caps how many ready-queue tasks are stepped per
// external-queue drain before yielding to poll a reactor/timer cycle.
// Zero (default) means unbounded within a tick.
func WithTickBudget(n int) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.tickBudget = n })
}

func resolveSchedulerOptions(opts []SchedulerOption) *schedulerOptions {
	cfg := &schedulerOptions{logger: NewNoOpLogger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	return cfg
}

// taskOptions holds per-task configuration resolved by TaskOption values.
type taskOptions struct {
	kind  TaskKind
	name  string
	group *Group
}

// TaskOption configures a task at Spawn time.
type TaskOption interface {
	applyTask(*taskOptions)
}

type taskOptionFunc func(*taskOptions)

func (f taskOptionFunc) applyTask(o *taskOptions) { f(o) }

// WithKind sets the TaskKind of a spawned task. Default is KindRegular.
func WithKind(k TaskKind) TaskOption {
	return taskOptionFunc(func(o *taskOptions) { o.kind = k })
}

// WithName registers the task under name in the Scheduler's registry
// (see Registry), making it discoverable by other tasks without a
// process-global singleton.
func WithName(name string) TaskOption {
	return taskOptionFunc(func(o *taskOptions) { o.name = name })
}

// withGroup binds a spawned task to g, so its completion is reported
// through g.Wait instead of (or in addition to) a direct Join. Internal:
// callers bind to a group via Group.Spawn, not by passing this option
// themselves.
func withGroup(g *Group) TaskOption {
	return taskOptionFunc(func(o *taskOptions) { o.group = g })
}

func resolveTaskOptions(opts []TaskOption) *taskOptions {
	cfg := &taskOptions{kind: KindRegular}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyTask(cfg)
	}
	return cfg
}

package taskloop

import "errors"

// gatherOptions configures a Gather call (spec §4.8).
type gatherOptions struct {
	race            int
	propagateErrors bool
	clearUnused     bool
}

// GatherOption configures Gather.
type GatherOption interface{ applyGather(*gatherOptions) }

type gatherOptionFunc func(*gatherOptions)

func (f gatherOptionFunc) applyGather(o *gatherOptions) { f(o) }

// WithRace stops Gather as soon as n of the supplied tasks have
// terminated, instead of waiting for all of them.
func WithRace(n int) GatherOption {
	return gatherOptionFunc(func(o *gatherOptions) { o.race = n })
}

// WithPropagateErrors makes Gather return immediately with the first
// error encountered, instead of collecting every result/error.
func WithPropagateErrors(enabled bool) GatherOption {
	return gatherOptionFunc(func(o *gatherOptions) { o.propagateErrors = enabled })
}

// WithClearUnused cancels every supplied task that had not yet
// terminated once Gather's stopping condition is reached (implied by
// WithRace or WithPropagateErrors; harmless to set alongside a plain
// wait-for-all Gather).
func WithClearUnused(enabled bool) GatherOption {
	return gatherOptionFunc(func(o *gatherOptions) { o.clearUnused = enabled })
}

func resolveGatherOptions(opts []GatherOption) *gatherOptions {
	cfg := &gatherOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyGather(cfg)
		}
	}
	return cfg
}

// gatherState tracks an in-flight Gather call across however many of its
// target tasks are still running.
type gatherState struct {
	ids       []TaskID
	cfg       *gatherOptions
	results   map[TaskID]any
	errs      map[TaskID]error
	remaining map[TaskID]struct{}
	done      int
	succeeded int // terminations with no error — the race(k) threshold (spec §4.8)
	waiter    *Task
	resolved  bool
}

// Gather suspends the calling task until the tasks named by ids satisfy
// the configured stopping condition (by default, all of them terminate),
// returning a per-id result/error map. Unlike Group, Gather works over
// any ad-hoc set of already-spawned task ids with no shared cancel
// scope — spec §4.8's "ad-hoc multi-wait".
func (c *TaskContext) Gather(ids []TaskID, opts ...GatherOption) (map[TaskID]any, map[TaskID]error, error) {
	cfg := resolveGatherOptions(opts)
	if cfg.race < 0 {
		return nil, nil, &InvalidArgumentError{Argument: "race", Detail: "must not be negative"}
	}
	if cfg.race > len(ids) {
		return nil, nil, &LengthException{Requested: cfg.race, Available: len(ids)}
	}

	gs := &gatherState{
		cfg:       cfg,
		ids:       ids,
		results:   make(map[TaskID]any),
		errs:      make(map[TaskID]error),
		remaining: make(map[TaskID]struct{}, len(ids)),
	}
	for _, id := range ids {
		gs.remaining[id] = struct{}{}
	}

	value, err := c.suspend(func(t *Task, s *Scheduler) {
		allTerminal := true
		for _, id := range ids {
			target, ok := s.tasks[id]
			if !ok {
				gs.errs[id] = ErrUnknownTask
				delete(gs.remaining, id)
				gs.done++
				continue
			}
			if target.state.Load().IsTerminal() {
				gs.results[id] = target.result
				if target.exception != nil {
					gs.errs[id] = target.exception
				} else {
					gs.succeeded++
				}
				delete(gs.remaining, id)
				gs.done++
			} else {
				allTerminal = false
			}
		}

		if gs.satisfied() {
			s.finishGather(gs, t)
			return
		}
		if allTerminal {
			s.finishGather(gs, t)
			return
		}

		t.state.Store(TaskSuspended)
		gs.waiter = t
		s.registerGatherWaits(gs, t)
	})

	if value != nil {
		if gv, ok := value.(*gatherState); ok {
			return gv.results, gv.errs, gatherErr(gv)
		}
	}
	return gs.results, gs.errs, err
}

// satisfied reports whether gs's stopping condition has been reached.
// race(k) is spec §4.8's "returns after the first k tasks terminate
// successfully" — counted against gs.succeeded, not every termination,
// so an immediately-erroring or unknown task never satisfies it on its
// own.
func (gs *gatherState) satisfied() bool {
	if gs.cfg.propagateErrors && len(gs.errs) > 0 {
		return true
	}
	if gs.cfg.race > 0 && gs.succeeded >= gs.cfg.race {
		return true
	}
	return len(gs.remaining) == 0
}

func gatherErr(gs *gatherState) error {
	if gs.cfg.propagateErrors {
		for _, e := range gs.errs {
			return e
		}
		return nil
	}
	if len(gs.errs) == 0 {
		return nil
	}
	all := make([]error, 0, len(gs.errs))
	for _, e := range gs.errs {
		all = append(all, e)
	}
	return errors.Join(all...)
}

// registerGatherWaits parks callbacks on every still-outstanding target
// of gs so each one's completion feeds gatherOnChildDone.
func (s *Scheduler) registerGatherWaits(gs *gatherState, waiter *Task) {
	for id := range gs.remaining {
		target := s.tasks[id]
		target.gatherWaiters = append(target.gatherWaiters, gs)
	}
	s.addCancelHook(waiter.id, func() {
		gs.waiter = nil
		gs.resolved = true
	})
}

// gatherOnChildDone is invoked by completeTask for every gatherState
// still tracking the terminating task.
func (s *Scheduler) gatherOnChildDone(gs *gatherState, t *Task) {
	if gs.resolved {
		return
	}
	if _, ok := gs.remaining[t.id]; !ok {
		return
	}
	delete(gs.remaining, t.id)
	gs.done++
	gs.results[t.id] = t.result
	if t.exception != nil {
		gs.errs[t.id] = t.exception
	} else {
		gs.succeeded++
	}
	if gs.satisfied() && gs.waiter != nil {
		s.finishGather(gs, gs.waiter)
	}
}

func (s *Scheduler) finishGather(gs *gatherState, waiter *Task) {
	gs.resolved = true
	if gs.cfg.clearUnused || gs.cfg.race > 0 || gs.cfg.propagateErrors {
		for id := range gs.remaining {
			s.doCancel(id, errors.New("gather stopping condition reached"))
		}
	}
	if waiter.state.Load() == TaskSuspended {
		s.wake(waiter, gs, nil)
	} else {
		waiter.inbox = gs
	}
}

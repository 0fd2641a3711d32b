package taskloop_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskloop "github.com/joeycumines/go-taskloop"
)

// TestGroupAnyWithError is spec.md §8 scenario 4: a 3-member "any" group
// where the first member raises; the other two wait on an event (so they
// are still running when the group decides it's done) and are cancelled.
// Group.Exception() must be that error, and Exceptions() must have length 1.
func TestGroupAnyWithError(t *testing.T) {
	sched := taskloop.New()
	boom := errors.New("error")
	ev := sched.NewEvent()

	var exception error
	var exceptions []error
	var waitErr error

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitAny)
		_, _ = g.Spawn(func(*taskloop.TaskContext) (any, error) {
			return nil, boom
		})
		_, _ = g.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			return nil, inner.Wait(ev)
		})
		_, _ = g.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			return nil, inner.Wait(ev)
		})

		_, waitErr = ctx.WaitGroup(g)
		exception = g.Exception()
		exceptions = g.Exceptions()
		return nil, nil
	})

	require.NoError(t, err)
	require.Error(t, waitErr)
	assert.ErrorIs(t, waitErr, boom)
	require.Error(t, exception)
	assert.ErrorIs(t, exception, boom)
	assert.Len(t, exceptions, 1)
}

// TestGroupAllReraisesFirstExceptionOnly is spec §4.7's result rule: "the
// group re-raises the first exception at context exit; further
// exceptions are preserved in an exceptions list for inspection" — so
// WaitGroup's error is e1 alone, not an aggregate of e1 and e2, while
// Exceptions() still reports both.
func TestGroupAllReraisesFirstExceptionOnly(t *testing.T) {
	sched := taskloop.New()
	e1 := errors.New("first")
	e2 := errors.New("second")

	var waitErr error
	var exceptions []error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitAll)
		_, _ = g.Spawn(func(*taskloop.TaskContext) (any, error) { return nil, e1 })
		_, _ = g.Spawn(func(*taskloop.TaskContext) (any, error) { return nil, e2 })
		_, _ = g.Spawn(func(*taskloop.TaskContext) (any, error) { return "ok", nil })
		_, waitErr = ctx.WaitGroup(g)
		exceptions = g.Exceptions()
		return nil, nil
	})
	require.NoError(t, err)
	require.Error(t, waitErr)
	assert.ErrorIs(t, waitErr, e1)
	assert.NotErrorIs(t, waitErr, e2)
	assert.Len(t, exceptions, 2)
	assert.ErrorIs(t, exceptions[0], e1)
	assert.ErrorIs(t, exceptions[1], e2)
}

func TestGroupObjectCancelsRest(t *testing.T) {
	sched := taskloop.New()
	ev := sched.NewEvent()

	var winnerID taskloop.TaskID
	var results map[taskloop.TaskID]any
	var waitErr error

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitObject)
		winnerID, _ = g.Spawn(func(*taskloop.TaskContext) (any, error) { return "winner", nil })
		_, _ = g.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			return nil, inner.Wait(ev)
		})
		results, waitErr = ctx.WaitGroup(g)
		return nil, nil
	})
	require.NoError(t, err)
	require.NoError(t, waitErr)
	assert.Equal(t, "winner", results[winnerID])
}

func TestGroupNoneDoesNotWait(t *testing.T) {
	sched := taskloop.New()
	started := make(chan struct{})

	var elapsed time.Duration
	var waitErr error

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitNone)
		_, _ = g.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			close(started)
			inner.Sleep(time.Hour)
			return nil, nil
		})
		before := time.Now()
		_, waitErr = ctx.WaitGroup(g)
		elapsed = time.Since(before)
		return nil, nil
	})
	require.NoError(t, err)
	require.NoError(t, waitErr)
	assert.Less(t, elapsed, 50*time.Millisecond)

	select {
	case <-started:
	default:
		t.Fatal("group member never started")
	}
}

func TestGroupSpawnAfterCloseFails(t *testing.T) {
	sched := taskloop.New()
	var spawnErr error

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitAll)
		if _, err := ctx.WaitGroup(g); err != nil {
			return nil, err
		}
		_, spawnErr = g.Spawn(func(*taskloop.TaskContext) (any, error) { return nil, nil })
		return nil, nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, spawnErr, taskloop.ErrGroupClosed)
}

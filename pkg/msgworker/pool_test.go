package msgworker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesJobs(t *testing.T) {
	pool := NewPool(4, 16)
	pool.Start(context.Background())
	defer pool.Stop()

	var done int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := pool.TryDispatch(Job{
			Sender: "97250000000" + string(rune('0'+i%10)),
			Handle: func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt64(&done, 1)
				return nil
			},
		})
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int64(20), atomic.LoadInt64(&done))
}

func TestPool_SameSenderRunsInOrder(t *testing.T) {
	pool := NewPool(8, 64)
	pool.Start(context.Background())
	defer pool.Stop()

	const n = 50
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		require.True(t, pool.TryDispatch(Job{
			Sender: "972501234567",
			Handle: func(ctx context.Context) error {
				defer wg.Done()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
		}))
	}
	wg.Wait()

	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPool_FullQueueDrops(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start(context.Background())
	defer pool.Stop()

	block := make(chan struct{})
	release := func(ctx context.Context) error {
		<-block
		return nil
	}

	// First job occupies the worker, second fills the queue.
	require.True(t, pool.TryDispatch(Job{Sender: "a", Handle: release}))
	require.Eventually(t, func() bool {
		return pool.GetStats().ActiveWorkers == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, pool.TryDispatch(Job{Sender: "a", Handle: release}))

	assert.False(t, pool.TryDispatch(Job{Sender: "a", Handle: release}))
	assert.Equal(t, int64(1), pool.GetStats().TotalDropped)
	close(block)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewPool(1, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	pool.Dispatch(Job{Sender: "a", Handle: func(ctx context.Context) error {
		panic("boom")
	}})
	pool.Dispatch(Job{Sender: "a", Handle: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), pool.GetStats().TotalErrors)
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	pool := NewPool(2, 8)
	pool.Start(context.Background())

	var done int64
	for i := 0; i < 4; i++ {
		pool.Dispatch(Job{Sender: "b", Handle: func(ctx context.Context) error {
			atomic.AddInt64(&done, 1)
			return nil
		}})
	}
	pool.Stop()

	assert.Equal(t, int64(4), atomic.LoadInt64(&done))
	assert.False(t, pool.TryDispatch(Job{Sender: "b", Handle: func(ctx context.Context) error {
		return errors.New("should not run")
	}}))
}

func TestPool_ErrorsAreCounted(t *testing.T) {
	pool := NewPool(1, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Dispatch(Job{Sender: "c", Handle: func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("handler failure")
	}})
	wg.Wait()

	require.Eventually(t, func() bool {
		s := pool.GetStats()
		return s.TotalErrors == 1 && s.TotalProcessed == 1
	}, time.Second, 5*time.Millisecond)
}

package sequencer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSubmit_SameKeyRunsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, s.Submit("p1", func(context.Context) {
			defer wg.Done()
			if i%3 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()
	require.NoError(t, s.Close())

	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestSubmit_SameKeyNeverOverlaps(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, s.Submit("p1", func(context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Equal(t, int32(1), maxRunning)
}

func TestSubmit_DifferentKeysRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	release := make(chan struct{})
	started := make(chan string, 2)

	require.NoError(t, s.Submit("a", func(context.Context) {
		started <- "a"
		<-release
	}))
	require.NoError(t, s.Submit("b", func(context.Context) {
		started <- "b"
		<-release
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("tasks for different keys did not run concurrently")
		}
	}
	close(release)
	require.NoError(t, s.Close())
}

func TestClose_CancelsAndRejects(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	observed := make(chan error, 2)
	block := func(ctx context.Context) {
		<-ctx.Done()
		observed <- ctx.Err()
	}
	require.NoError(t, s.Submit("p1", block))
	require.NoError(t, s.Submit("p1", block))

	require.NoError(t, s.Close())

	assert.ErrorIs(t, <-observed, context.Canceled)
	assert.ErrorIs(t, <-observed, context.Canceled)
	assert.ErrorIs(t, s.Submit("p1", block), ErrClosed)
	assert.NoError(t, s.Close())
}

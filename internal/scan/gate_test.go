package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateLimitsConcurrency(t *testing.T) {
	g := NewGate(3)
	ctx := context.Background()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			g.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, g.InUse())
}

func TestGateZeroCapacityBlocks(t *testing.T) {
	g := NewGate(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateResizeWakesWaiters(t *testing.T) {
	g := NewGate(0)
	ctx := context.Background()

	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquired through a closed gate")
	case <-time.After(30 * time.Millisecond):
	}

	g.Resize(1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("resize did not wake the waiter")
	}
}

func TestGateShrinkDoesNotInterruptHolders(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))

	g.Resize(1)
	assert.Equal(t, 2, g.InUse())

	// no new slot until both holders release
	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Acquire(blocked))

	g.Release()
	g.Release()
	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, 1, g.InUse())
}

func TestGateCancelWhileWaiting(t *testing.T) {
	g := NewGate(1)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	waitCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- g.Acquire(waitCtx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter did not return")
	}
}

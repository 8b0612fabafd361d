package scan

import (
	"context"
	"sync"
)

// Gate is a resizable counting semaphore bounding in-flight probes. The
// governor resizes it at runtime; shrinking never interrupts probes that
// already hold a slot, it only delays new admissions. Capacity zero admits
// nothing, which is how a paused scan waits out high load.
type Gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
}

// NewGate returns a gate with the given initial capacity.
func NewGate(capacity int) *Gate {
	g := &Gate{capacity: capacity}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until a slot is free or the context ends.
func (g *Gate) Acquire(ctx context.Context) error {
	// wake this waiter when the context ends
	stop := context.AfterFunc(ctx, func() {
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.inUse >= g.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
	g.inUse++
	return nil
}

// Release frees a slot.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.inUse > 0 {
		g.inUse--
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Resize changes the capacity and wakes waiters when slots opened up.
func (g *Gate) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	g.mu.Lock()
	g.capacity = capacity
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Capacity returns the current slot budget.
func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// InUse returns the number of held slots.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Package inflight deduplicates concurrent work by key.
//
// The first caller for a key starts the build; callers arriving while it
// runs attach to the same build and observe the same value or error. Builds
// run on a context detached from the caller, so a caller that gives up stops
// waiting without cancelling the build. Once a build finishes its slot is
// removed and the next caller for the key starts a fresh one.
package inflight

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Func is the unit of work guarded by a Group
type Func[V any] func(ctx context.Context) (V, error)

// Waiter blocks until the build it belongs to completes or ctx is done
type Waiter[V any] func(ctx context.Context) (V, error)

type call[V any] struct {
	done  chan struct{}
	since time.Time
	val   V
	err   error
}

// Group holds the in-progress builds for one tenant
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

// NewGroup creates an empty group
func NewGroup[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{calls: make(map[K]*call[V])}
}

// Start begins a build for key unless one is already running. started is
// false when the returned waiter belongs to an existing build.
func (g *Group[K, V]) Start(ctx context.Context, key K, fn Func[V]) (wait Waiter[V], started bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return c.wait, false
	}
	c := &call[V]{done: make(chan struct{}), since: time.Now()}
	g.calls[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)
	return c.wait, true
}

// InFlight reports whether a build for key is running and since when
func (g *Group[K, V]) InFlight(key K) (since time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[key]
	if !ok {
		return time.Time{}, false
	}
	return c.since, true
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn Func[V]) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("build panicked: %v", r)
		}
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

func (c *call[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

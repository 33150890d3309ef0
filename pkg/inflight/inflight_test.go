package inflight

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

// do starts or joins the build for key and waits for it
func do[V any](g *Group[string, V], key string, fn Func[V]) (V, error) {
	wait, _ := g.Start(context.Background(), key, fn)
	return wait(context.Background())
}

func running(g *Group[string, int], key string) bool {
	_, ok := g.InFlight(key)
	return ok
}

func TestConcurrentCallersShareOneBuild(t *testing.T) {
	g := NewGroup[string, int]()
	release := make(chan struct{})
	var calls atomic.Int32

	build := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = do(g, "fp", build)
		}(i)
	}

	require.Eventually(t, func() bool { return running(g, "fp") }, time.Second, time.Millisecond)
	// let every caller attach before releasing
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, running(g, "fp"))
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
}

func TestFailureIsSharedAndSlotRemoved(t *testing.T) {
	g := NewGroup[string, int]()
	boom := errors.New("transformer failed")
	release := make(chan struct{})
	var second atomic.Bool

	wait1, started1 := g.Start(context.Background(), "fp", func(ctx context.Context) (int, error) {
		<-release
		return 0, boom
	})
	wait2, started2 := g.Start(context.Background(), "fp", func(ctx context.Context) (int, error) {
		second.Store(true)
		return 0, nil
	})
	assert.True(t, started1)
	assert.False(t, started2)

	close(release)
	_, err1 := wait1(context.Background())
	_, err2 := wait2(context.Background())
	assert.ErrorIs(t, err1, boom)
	assert.ErrorIs(t, err2, boom)
	assert.False(t, second.Load())

	_, ok := g.InFlight("fp")
	assert.False(t, ok)

	v, err := do(g, "fp", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCallerCancellationDoesNotCancelBuild(t *testing.T) {
	g := NewGroup[string, string]()
	release := make(chan struct{})
	finished := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	wait, started := g.Start(ctx, "fp", func(ctx context.Context) (string, error) {
		<-release
		finished <- ctx.Err()
		return "done", nil
	})
	require.True(t, started)

	cancel()
	_, err := wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	since, ok := g.InFlight("fp")
	assert.True(t, ok)
	assert.False(t, since.IsZero())

	close(release)
	assert.NoError(t, <-finished)
	require.Eventually(t, func() bool {
		_, ok := g.InFlight("fp")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestPanicBecomesError(t *testing.T) {
	g := NewGroup[string, int]()
	_, err := do(g, "fp", func(ctx context.Context) (int, error) {
		panic("bad input")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
	assert.False(t, running(g, "fp"))
}

func TestKeysAreIndependent(t *testing.T) {
	g := NewGroup[string, string]()
	a, err := do(g, "a", func(ctx context.Context) (string, error) { return "A", nil })
	require.NoError(t, err)
	b, err := do(g, "b", func(ctx context.Context) (string, error) { return "B", nil })
	require.NoError(t, err)
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}

package devwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	tenant string
	data   string
}

func TestWatcherReportsRevisionWrites(t *testing.T) {
	base := t.TempDir()
	acme := filepath.Join(base, "acme")

	got := make(chan change, 4)
	w := New(map[string]string{"acme": acme}, func(_ context.Context, tenant string, data []byte) {
		got <- change{tenant: tenant, data: string(data)}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// wait for the watch to be registered
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(acme, ".internal"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(acme, ".internal", "other.json"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(Path(acme), []byte(`{"id":"r1"}`), 0644))

	select {
	case c := <-got:
		assert.Equal(t, "acme", c.tenant)
		assert.Equal(t, `{"id":"r1"}`, c.data)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data/acme", ".internal", "revision.json"), Path("/data/acme"))
}

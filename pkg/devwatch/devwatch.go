// Package devwatch reloads revision packages written to disk during
// development. A local build tool writes <tenant_base>/.internal/revision.json
// and the coordinator picks it up as if it had been uploaded.
package devwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileName is the revision package watched in every tenant directory
const FileName = "revision.json"

// debounce collapses the burst of events one save produces
const debounce = 150 * time.Millisecond

// Handler receives the contents of a changed revision file
type Handler func(ctx context.Context, tenant string, data []byte)

// Watcher watches one revision file per tenant
type Watcher struct {
	dirs    map[string]string // watched dir -> tenant
	handler Handler
	logger  zerolog.Logger
}

// New creates a watcher for tenants, keyed by name with their base dirs
func New(tenants map[string]string, handler Handler) *Watcher {
	w := &Watcher{
		dirs:    make(map[string]string, len(tenants)),
		handler: handler,
		logger:  log.WithComponent("devwatch"),
	}
	for name, base := range tenants {
		w.dirs[filepath.Join(base, ".internal")] = name
	}
	return w
}

// Path returns the watched revision file of a tenant base dir
func Path(tenantBaseDir string) string {
	return filepath.Join(tenantBaseDir, ".internal", FileName)
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	for dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.logger.Info().Int("tenants", len(w.dirs)).Msg("Watching for local revision packages")

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != FileName || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			tenant, ok := w.dirs[filepath.Dir(ev.Name)]
			if !ok {
				continue
			}

			path := ev.Name
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(debounce, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				w.load(ctx, tenant, path)
			})
			mu.Unlock()
		}
	}
}

func (w *Watcher) load(ctx context.Context, tenant, path string) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("tenant", tenant).Msg("Failed to read revision package")
		return
	}
	w.logger.Info().Str("tenant", tenant).Int("bytes", len(data)).Msg("Local revision package changed")
	w.handler(ctx, tenant, data)
}

// Package watch turns filesystem activity under tenant roots into
// debounced sync triggers.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docsync/internal/contextutil"
)

// TriggerFunc is invoked with the tenant whose root saw activity, once per
// quiet debounce interval. Errors are logged, not propagated; the watcher
// keeps running.
type TriggerFunc func(ctx context.Context, tenantID string) error

// Watcher monitors every tenant root recursively and coalesces bursts of
// filesystem events into a single trigger per tenant.
type Watcher struct {
	fsw      *fsnotify.Watcher
	roots    map[string]string // tenant ID -> absolute root
	debounce time.Duration
	trigger  TriggerFunc

	mu      sync.Mutex
	pending map[string]*time.Timer // tenant ID -> armed debounce timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher over the given tenant roots. No events are
// delivered until Start is called.
func New(tenantRoots map[string]string, debounce time.Duration, trigger TriggerFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	roots := make(map[string]string, len(tenantRoots))
	for tenant, root := range tenantRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve root for tenant %s: %w", tenant, err)
		}
		roots[tenant] = abs
	}

	return &Watcher{
		fsw:      fsw,
		roots:    roots,
		debounce: debounce,
		trigger:  trigger,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start registers every directory under each tenant root and begins the
// event loop. fsnotify watches are not recursive, so each subdirectory is
// added individually and newly created directories are added as they
// appear.
func (w *Watcher) Start(ctx context.Context) error {
	for tenant, root := range w.roots {
		if err := w.watchTree(root); err != nil {
			return fmt.Errorf("failed to watch root for tenant %s: %w", tenant, err)
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop tears down the watcher and cancels any armed debounce timers. It
// blocks until the event loop has exited.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for tenant, timer := range w.pending {
		timer.Stop()
		delete(w.pending, tenant)
	}
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	logger := contextutil.LoggerFromContext(ctx)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}

			// New directories must be watched before anything written
			// into them can be seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchTree(event.Name); err != nil {
						logger.WarnContext(ctx, "failed to watch new directory",
							"path", event.Name, "error", err)
					}
				}
			}

			tenant, ok := w.tenantFor(event.Name)
			if !ok {
				continue
			}
			w.arm(ctx, tenant)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.WarnContext(ctx, "filesystem watch error", "error", err)
		}
	}
}

// tenantFor maps an event path to the tenant whose root contains it.
func (w *Watcher) tenantFor(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	for tenant, root := range w.roots {
		if abs == root {
			return tenant, true
		}
		rel, err := filepath.Rel(root, abs)
		if err == nil && filepath.IsLocal(rel) {
			return tenant, true
		}
	}
	return "", false
}

// arm starts, or restarts, the debounce timer for a tenant. Each new event
// within the window pushes the trigger out again, so a burst of writes
// produces exactly one sync.
func (w *Watcher) arm(ctx context.Context, tenant string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[tenant]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.pending[tenant] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, tenant)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		logger := contextutil.LoggerFromContext(ctx)
		logger.InfoContext(ctx, "filesystem activity settled, triggering sync", "tenant_id", tenant)
		if err := w.trigger(ctx, tenant); err != nil {
			logger.WarnContext(ctx, "watch-triggered sync not started", "tenant_id", tenant, "error", err)
		}
	})
}

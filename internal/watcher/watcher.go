// Package watcher reports changes to the local workflow directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/workflowshelf/workflowshelf/internal/logging"
)

// DefaultDebounce groups bursts of file events (editor saves, copies) into a
// single notification.
const DefaultDebounce = 500 * time.Millisecond

// ErrNotStarted is returned by Flush before Start.
var ErrNotStarted = errors.New("watcher not started")

// Watcher watches a directory tree and calls OnChange with the relative paths
// that changed since the last notification.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(paths []string)

	fsw      *fsnotify.Watcher
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]time.Time
}

// New creates a watcher for root. A zero debounce uses DefaultDebounce.
func New(root string, debounce time.Duration, onChange func(paths []string)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
}

// Start registers every directory under root and begins watching. The
// watcher stops when ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	logging.Info("watching workflow directory", logging.String("root", w.root))
	return nil
}

// Stop terminates the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("workflow watcher error", logging.Err(err))

		case <-ticker.C:
			w.flush(false)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Warn("cannot watch new directory", logging.String("path", event.Name), logging.Err(err))
			}
			w.mark(event.Name)
			return
		}
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	// Removed or renamed directories have no extension and still change the catalog.
	if ext := filepath.Ext(name); ext != "" && !strings.EqualFold(ext, ".json") {
		return
	}
	w.mark(event.Name)
}

func (w *Watcher) mark(p string) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = time.Now()
	w.mu.Unlock()
}

// flush reports pending paths that have been quiet for the debounce window,
// or all of them when force is set.
func (w *Watcher) flush(force bool) {
	w.mu.Lock()
	var ready []string
	for p, at := range w.pending {
		if force || time.Since(at) >= w.debounce {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	if len(ready) == 0 || w.onChange == nil {
		return
	}
	sort.Strings(ready)
	logging.Debug("workflow directory changed", logging.Int("paths", len(ready)))
	w.onChange(ready)
}

// Flush reports every pending change immediately.
func (w *Watcher) Flush() error {
	if w.fsw == nil {
		return ErrNotStarted
	}
	w.flush(true)
	return nil
}

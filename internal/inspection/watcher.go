package inspection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher watches a workspace root for Cargo.toml changes so a
// long-lived serve process can invalidate its memoized toolchain-channel
// detection: a new manifest can pin a different toolchain. It is purely
// advisory and never blocks an inspection.
type ManifestWatcher struct {
	watcher *fsnotify.Watcher
	path    string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewManifestWatcher creates a watcher for workspaceRoot/Cargo.toml.
func NewManifestWatcher(workspaceRoot string) (*ManifestWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}

	return &ManifestWatcher{
		watcher: fsWatcher,
		path:    filepath.Join(workspaceRoot, "Cargo.toml"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. The containing directory is watched rather than
// the file itself, since editors commonly replace a file instead of
// writing it in place, which would otherwise drop the fsnotify watch.
func (w *ManifestWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("watch manifest directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch manifest directory: %w", err)
	}

	go w.processEvents()
	return nil
}

// Stop stops the watcher. Safe to call more than once; calls after the
// first return nil.
func (w *ManifestWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *ManifestWatcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			InvalidateToolchainCache()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

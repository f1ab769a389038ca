package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSAdapter is the default Adapter backed by the OS filesystem and fsnotify.
type FSAdapter struct {
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	watching bool
	watchDir string
}

// NewFSAdapter creates an adapter rooted at the OS filesystem.
// Paths passed to the adapter are used as-is.
func NewFSAdapter() *FSAdapter {
	return &FSAdapter{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}
}

// ReadFile reads the file at path, returning ErrNotFound if it does not exist.
func (a *FSAdapter) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes data to path, creating parent directories as needed.
func (a *FSAdapter) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes the file at path. Missing files are not an error.
func (a *FSAdapter) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// ListDir returns the file names (not directories) in path.
// A missing directory yields an empty listing.
func (a *FSAdapter) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Watch begins monitoring dir for *.json file changes and returns the event
// channel. Only one watch per adapter; the channel is closed by Close.
func (a *FSAdapter) Watch(dir string) (<-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watching {
		return nil, fmt.Errorf("adapter already watching %s", a.watchDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	a.watcher = watcher
	a.watchDir = dir
	a.watching = true
	a.wg.Add(1)
	go a.processEvents()

	return a.events, nil
}

// Close stops the watch and releases the underlying fsnotify resources.
// It blocks until the event goroutine has exited.
func (a *FSAdapter) Close() error {
	a.mu.Lock()
	if !a.watching {
		a.mu.Unlock()
		return nil
	}
	a.watching = false
	a.mu.Unlock()

	close(a.done)

	if err := a.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	a.wg.Wait()
	close(a.events)
	return nil
}

// processEvents converts fsnotify events into adapter Events.
func (a *FSAdapter) processEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return

		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := a.convertEvent(event); ok {
				select {
				case a.events <- ev:
				case <-a.done:
					return
				}
			}

		case _, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are transient; the next full reload repairs state.
		}
	}
}

// convertEvent maps an fsnotify event onto an adapter Event.
// Non-JSON files and chmod-only events are ignored.
func (a *FSAdapter) convertEvent(event fsnotify.Event) (Event, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return Event{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create).
		op = OpDelete
	default:
		return Event{}, false
	}

	return Event{
		Name: filepath.Base(event.Name),
		Op:   op,
		At:   time.Now(),
	}, true
}

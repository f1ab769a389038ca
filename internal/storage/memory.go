package storage

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryAdapter is an in-memory Adapter for tests and embedded hosts that
// supply their own durability. Watch events are emitted synchronously for
// writes and deletes under the watched directory.
type MemoryAdapter struct {
	mu       sync.Mutex
	files    map[string][]byte
	events   chan Event
	watchDir string
	closed   bool

	// FailWrites makes WriteFile fail for paths containing the substring.
	// Test hook for exercising I/O failure paths.
	FailWrites string
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		files: make(map[string][]byte),
	}
}

// ReadFile returns the stored bytes, or ErrNotFound.
func (a *MemoryAdapter) ReadFile(p string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile stores bytes and emits a watch event if the path is watched.
func (a *MemoryAdapter) WriteFile(p string, data []byte) error {
	a.mu.Lock()
	if a.FailWrites != "" && strings.Contains(p, a.FailWrites) {
		a.mu.Unlock()
		return fmt.Errorf("injected write failure for %s", p)
	}
	_, existed := a.files[p]
	stored := make([]byte, len(data))
	copy(stored, data)
	a.files[p] = stored
	a.mu.Unlock()

	op := OpCreate
	if existed {
		op = OpModify
	}
	a.emit(p, op)
	return nil
}

// DeleteFile removes the path. Missing paths are not an error.
func (a *MemoryAdapter) DeleteFile(p string) error {
	a.mu.Lock()
	_, existed := a.files[p]
	delete(a.files, p)
	a.mu.Unlock()

	if existed {
		a.emit(p, OpDelete)
	}
	return nil
}

// ListDir returns the base names of files directly under dir.
func (a *MemoryAdapter) ListDir(dir string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for p := range a.files {
		if path.Dir(p) == path.Clean(dir) {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Watch begins emitting events for files under dir.
func (a *MemoryAdapter) Watch(dir string) (<-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events != nil {
		return nil, fmt.Errorf("adapter already watching %s", a.watchDir)
	}
	a.events = make(chan Event, 100)
	a.watchDir = path.Clean(dir)
	return a.events, nil
}

// Close stops the watch and closes the event channel.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events != nil && !a.closed {
		a.closed = true
		close(a.events)
	}
	return nil
}

// emit delivers a watch event, dropping it if nobody is watching or the
// buffer is full.
func (a *MemoryAdapter) emit(p string, op EventOp) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events == nil || a.closed {
		return
	}
	if path.Dir(path.Clean(p)) != a.watchDir {
		return
	}
	ev := Event{Name: path.Base(p), Op: op, At: time.Now()}
	select {
	case a.events <- ev:
	default:
	}
}

// Package writer provides the debounced durable writer.
//
// Writes are scheduled per entity id. Each schedule restarts that id's
// debounce timer; when the timer fires, the entity's state is serialized
// at that moment and written through the storage adapter. Intermediate
// states inside the window are never persisted (last-write-wins for rapid
// local edits).
package writer

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/boardsync/internal/storage"
)

// IOError is a storage adapter read/write failure surfaced to the caller.
// It is not retried automatically; retry is a user-facing action.
type IOError struct {
	Op   string // "write", "backup", "delete"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Source serializes the current in-memory state of an entity.
// The writer calls it at timer expiry, never earlier.
type Source interface {
	Serialize(entityID string) ([]byte, error)
}

// Writer debounces and performs durable writes for entities.
type Writer struct {
	adapter   storage.Adapter
	source    Source
	dataDir   string
	backupDir string
	window    time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]struct{}
	closed   bool
}

// New creates a Writer. window is the per-id debounce window; the
// reference value for board files is one second.
func New(adapter storage.Adapter, source Source, dataDir, backupDir string, window time.Duration, log *slog.Logger) *Writer {
	return &Writer{
		adapter:   adapter,
		source:    source,
		dataDir:   dataDir,
		backupDir: backupDir,
		window:    window,
		log:       log,
		timers:    make(map[string]*time.Timer),
		inFlight:  make(map[string]struct{}),
	}
}

// ScheduleWrite (re)starts the debounce timer for the entity. A timer
// already pending for the same id is cancelled and replaced, so only the
// state at expiry of the final schedule is persisted.
func (w *Writer) ScheduleWrite(entityID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.timers[entityID]; ok {
		t.Stop()
	}
	w.timers[entityID] = time.AfterFunc(w.window, func() {
		if err := w.flush(entityID); err != nil {
			w.log.Error("debounced write failed", "entity", entityID, "error", err)
		}
	})
}

// FlushNow cancels any pending timer for the entity and writes it
// synchronously. Used for explicit "save now" actions.
func (w *Writer) FlushNow(entityID string) error {
	w.mu.Lock()
	if t, ok := w.timers[entityID]; ok {
		t.Stop()
		delete(w.timers, entityID)
	}
	w.mu.Unlock()

	return w.writeTracked(entityID)
}

// FlushAll cancels every pending timer and writes each dirty entity
// synchronously. Used at shutdown so no data is lost on graceful exit.
func (w *Writer) FlushAll() error {
	w.mu.Lock()
	w.closed = true
	pending := make([]string, 0, len(w.timers))
	for id, t := range w.timers {
		t.Stop()
		pending = append(pending, id)
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	var firstErr error
	for _, id := range pending {
		if err := w.writeTracked(id); err != nil {
			w.log.Error("flush failed", "entity", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Pending reports whether a durable write is still outstanding for the
// entity: a live debounce timer, or a write currently being performed.
// The change watcher uses this to defer external events that would
// otherwise clobber an in-flight local edit.
func (w *Writer) Pending(entityID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.timers[entityID]; ok {
		return true
	}
	_, ok := w.inFlight[entityID]
	return ok
}

// Delete removes the entity's primary file. The backup copy is kept.
func (w *Writer) Delete(entityID string) error {
	w.mu.Lock()
	if t, ok := w.timers[entityID]; ok {
		t.Stop()
		delete(w.timers, entityID)
	}
	w.mu.Unlock()

	path := filepath.Join(w.dataDir, entityID+".json")
	if err := w.adapter.DeleteFile(path); err != nil {
		return &IOError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// flush is the timer callback path: drop the timer handle, then write.
func (w *Writer) flush(entityID string) error {
	w.mu.Lock()
	delete(w.timers, entityID)
	w.mu.Unlock()

	return w.writeTracked(entityID)
}

// writeTracked performs the write with the entity held in the in-flight
// set, so Pending covers the write itself and not just the timer.
func (w *Writer) writeTracked(entityID string) error {
	w.mu.Lock()
	w.inFlight[entityID] = struct{}{}
	w.mu.Unlock()

	err := w.write(entityID)

	w.mu.Lock()
	delete(w.inFlight, entityID)
	w.mu.Unlock()
	return err
}

// write serializes the entity's current state and persists it, writing a
// rotating backup copy first. Backup failures are logged but do not abort
// the primary write.
func (w *Writer) write(entityID string) error {
	data, err := w.source.Serialize(entityID)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", entityID, err)
	}

	name := entityID + ".json"

	if w.backupDir != "" {
		backupPath := filepath.Join(w.backupDir, name)
		if err := w.adapter.WriteFile(backupPath, data); err != nil {
			w.log.Warn("backup write failed", "entity", entityID, "path", backupPath, "error", err)
		}
	}

	primaryPath := filepath.Join(w.dataDir, name)
	if err := w.adapter.WriteFile(primaryPath, data); err != nil {
		return &IOError{Op: "write", Path: primaryPath, Err: err}
	}

	w.log.Debug("entity persisted", "entity", entityID, "bytes", len(data))
	return nil
}

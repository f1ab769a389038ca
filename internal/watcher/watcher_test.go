package watcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/boardsync/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		CoalesceWindow: 60 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
	}
}

// changeRecorder collects applied changes.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) apply(ch Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func noPending(string) bool { return false }

// TestWatcher_CoalescesBursts verifies that rapid events for the same file
// collapse into a single change signal.
func TestWatcher_CoalescesBursts(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}
	w := New(testConfig(), events, noPending, rec.apply, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		events <- storage.Event{Name: "b1.json", Op: storage.OpModify, At: time.Now()}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("got %d changes, want 1 coalesced change: %v", len(got), got)
	}
	if got[0].EntityID != "b1" || got[0].Op != storage.OpModify {
		t.Errorf("change = %+v, want b1/modify", got[0])
	}
}

// TestWatcher_SeparateFilesSeparateSignals verifies coalescing is per
// path, not global.
func TestWatcher_SeparateFilesSeparateSignals(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}
	w := New(testConfig(), events, noPending, rec.apply, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	events <- storage.Event{Name: "b1.json", Op: storage.OpModify, At: time.Now()}
	events <- storage.Event{Name: "b2.json", Op: storage.OpCreate, At: time.Now()}

	time.Sleep(200 * time.Millisecond)

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2: %v", len(got), got)
	}
	seen := map[string]storage.EventOp{}
	for _, ch := range got {
		seen[ch.EntityID] = ch.Op
	}
	if seen["b1"] != storage.OpModify || seen["b2"] != storage.OpCreate {
		t.Errorf("changes = %v", seen)
	}
}

// TestWatcher_DeleteSupersedesModify verifies the last op in a burst wins.
func TestWatcher_DeleteSupersedesModify(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}
	w := New(testConfig(), events, noPending, rec.apply, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	events <- storage.Event{Name: "b1.json", Op: storage.OpModify, At: time.Now()}
	events <- storage.Event{Name: "b1.json", Op: storage.OpDelete, At: time.Now()}

	time.Sleep(200 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 || got[0].Op != storage.OpDelete {
		t.Errorf("changes = %v, want single delete for b1", got)
	}
}

// TestWatcher_DefersWhilePendingWrite verifies an external event for an
// entity with an in-flight local write is held until the write completes.
func TestWatcher_DefersWhilePendingWrite(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}

	var mu sync.Mutex
	pendingIDs := map[string]bool{"b1": true}
	pending := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		return pendingIDs[id]
	}

	w := New(testConfig(), events, pending, rec.apply, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	events <- storage.Event{Name: "b1.json", Op: storage.OpModify, At: time.Now()}
	time.Sleep(150 * time.Millisecond)

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("change applied while local write pending: %v", got)
	}
	if w.DeferredCount() != 1 {
		t.Errorf("DeferredCount() = %d, want 1", w.DeferredCount())
	}

	// Local write completes; the deferred change is released.
	mu.Lock()
	pendingIDs["b1"] = false
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	got := rec.all()
	if len(got) != 1 || got[0].EntityID != "b1" {
		t.Fatalf("deferred change not released: %v", got)
	}
	if w.DeferredCount() != 0 {
		t.Errorf("DeferredCount() = %d, want 0", w.DeferredCount())
	}
}

// TestWatcher_IgnoresNonBoardFiles verifies non-JSON names are dropped.
func TestWatcher_IgnoresNonBoardFiles(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}
	w := New(testConfig(), events, noPending, rec.apply, testLogger())
	w.Start(context.Background())
	defer w.Stop()

	events <- storage.Event{Name: "README.md", Op: storage.OpModify, At: time.Now()}
	events <- storage.Event{Name: "cards.db", Op: storage.OpModify, At: time.Now()}

	time.Sleep(150 * time.Millisecond)

	if got := rec.all(); len(got) != 0 {
		t.Errorf("non-board files produced changes: %v", got)
	}
}

// TestWatcher_StopTerminates verifies Stop returns promptly and no
// further changes are applied.
func TestWatcher_StopTerminates(t *testing.T) {
	events := make(chan storage.Event, 10)
	rec := &changeRecorder{}
	w := New(testConfig(), events, noPending, rec.apply, testLogger())
	w.Start(context.Background())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return within 1s")
	}
}

package cache

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingLoader returns configurable items and counts invocations.
type countingLoader struct {
	mu    sync.Mutex
	items []any
	err   error
	calls int32
}

func (l *countingLoader) load(string) ([]any, error) {
	atomic.AddInt32(&l.calls, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items, l.err
}

func (l *countingLoader) set(items []any, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = items
	l.err = err
}

func (l *countingLoader) loadCalls() int32 { return atomic.LoadInt32(&l.calls) }

// TestCache_FirstReadBlocks verifies the first read loads synchronously
// and returns a populated view.
func TestCache_FirstReadBlocks(t *testing.T) {
	l := &countingLoader{items: []any{"a", "b"}}
	c := New(l.load, time.Second, 10*time.Millisecond, testLogger())

	view, fresh := c.GetList("boards")
	if !fresh {
		t.Error("first read should be fresh")
	}
	if view.State != StatePopulated || len(view.Items) != 2 {
		t.Errorf("view = %+v, want populated with 2 items", view)
	}
}

// TestCache_EmptyAndErrorStates verifies the observable state machine.
func TestCache_EmptyAndErrorStates(t *testing.T) {
	l := &countingLoader{items: []any{}}
	c := New(l.load, time.Second, 10*time.Millisecond, testLogger())

	view, _ := c.GetList("boards")
	if view.State != StateEmpty {
		t.Errorf("state = %v, want empty", view.State)
	}

	l.set(nil, errors.New("disk on fire"))
	c.Invalidate("boards")
	view, _ = c.GetList("boards")
	if view.State != StateError || view.Err == "" {
		t.Errorf("view = %+v, want error state with message", view)
	}

	// Explicit refresh takes the terminal state back through loading to
	// populated.
	l.set([]any{"x"}, nil)
	c.Invalidate("boards")
	view, _ = c.GetList("boards")
	if view.State != StatePopulated {
		t.Errorf("state = %v, want populated after recovery", view.State)
	}
}

// TestCache_StaleWhileRevalidate verifies a stale entry is served
// immediately while a background refresh repopulates it.
func TestCache_StaleWhileRevalidate(t *testing.T) {
	l := &countingLoader{items: []any{"old"}}
	c := New(l.load, 30*time.Millisecond, time.Millisecond, testLogger())

	c.GetList("boards")
	time.Sleep(50 * time.Millisecond) // let the entry go stale

	l.set([]any{"new", "new2"}, nil)

	start := time.Now()
	view, fresh := c.GetList("boards")
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("stale read blocked for %v", elapsed)
	}
	if fresh {
		t.Error("stale read reported as fresh")
	}
	if len(view.Items) != 1 || view.Items[0] != "old" {
		t.Errorf("stale read returned %v, want the old value", view.Items)
	}

	// The background refresh lands shortly after.
	time.Sleep(50 * time.Millisecond)
	view, fresh = c.GetList("boards")
	if !fresh || len(view.Items) != 2 {
		t.Errorf("refreshed view = %+v (fresh=%v), want 2 fresh items", view, fresh)
	}
}

// TestCache_InvalidateBlocksNextRead verifies the read after an explicit
// invalidate waits for the reload instead of serving stale data.
func TestCache_InvalidateBlocksNextRead(t *testing.T) {
	l := &countingLoader{items: []any{"v1"}}
	c := New(l.load, time.Hour, time.Millisecond, testLogger())

	c.GetList("boards")
	l.set([]any{"v2"}, nil)
	c.Invalidate("boards")

	view, _ := c.GetList("boards")
	if len(view.Items) != 1 || view.Items[0] != "v2" {
		t.Errorf("post-invalidate read returned %v, want the reloaded value", view.Items)
	}
}

// TestCache_RefreshThrottle verifies bursts of explicit refresh calls
// collapse into a single load.
func TestCache_RefreshThrottle(t *testing.T) {
	l := &countingLoader{items: []any{"x"}}
	c := New(l.load, time.Hour, 500*time.Millisecond, testLogger())

	c.GetList("boards") // 1 load
	base := l.loadCalls()

	for i := 0; i < 10; i++ {
		c.Refresh("boards")
	}
	time.Sleep(50 * time.Millisecond)

	// The limiter's initial token let at most one refresh through.
	if got := l.loadCalls() - base; got > 1 {
		t.Errorf("%d loads after 10 rapid refreshes, want at most 1", got)
	}
}

// TestCache_InvalidateAll verifies every entry is dropped.
func TestCache_InvalidateAll(t *testing.T) {
	l := &countingLoader{items: []any{"x"}}
	c := New(l.load, time.Hour, time.Millisecond, testLogger())

	c.GetList("a")
	c.GetList("b")
	c.InvalidateAll()

	if _, ok := c.Peek("a"); ok {
		t.Error("entry a survived InvalidateAll")
	}
	if _, ok := c.Peek("b"); ok {
		t.Error("entry b survived InvalidateAll")
	}
}

// TestState_String covers the state names used in UI payloads.
func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateLoading, "loading"},
		{StateError, "error"},
		{StateEmpty, "empty"},
		{StatePopulated, "populated"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

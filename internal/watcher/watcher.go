// Package watcher turns raw storage events into reload signals.
//
// Bursts of events for the same file (editors and sync tools often touch a
// file several times in quick succession) are coalesced into one signal per
// debounce window. A signal for an entity with a pending local write is not
// applied immediately: it is deferred until the write completes, then
// reconciled by the engine with last-modified-wins.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/boardsync/internal/model"
	"github.com/steveyegge/boardsync/internal/storage"
)

// Change is one coalesced external change for an entity.
type Change struct {
	EntityID string
	Op       storage.EventOp
}

// Config holds watcher tuning knobs.
type Config struct {
	// CoalesceWindow is how long a path must be quiet before its queued
	// events collapse into one signal.
	CoalesceWindow time.Duration
	// SweepInterval is how often the queue is scanned. Must be shorter
	// than CoalesceWindow.
	SweepInterval time.Duration
}

// DefaultConfig returns the reference tuning: 150ms coalescing.
func DefaultConfig() Config {
	return Config{
		CoalesceWindow: 150 * time.Millisecond,
		SweepInterval:  50 * time.Millisecond,
	}
}

// queued is an event burst being coalesced for one path.
type queued struct {
	lastEvent time.Time
	op        storage.EventOp
}

// Watcher coalesces storage events and hands reload signals to the engine.
type Watcher struct {
	cfg     Config
	events  <-chan storage.Event
	pending func(entityID string) bool
	apply   func(Change)
	log     *slog.Logger

	mu       sync.Mutex
	queue    map[string]*queued // entityID -> burst being coalesced
	deferred map[string]storage.EventOp

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher.
//
// pending reports whether the durable writer still has an in-flight write
// for the entity; apply receives each coalesced change once the entity has
// no pending local write.
func New(cfg Config, events <-chan storage.Event, pending func(string) bool, apply func(Change), log *slog.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		events:   events,
		pending:  pending,
		apply:    apply,
		log:      log,
		queue:    make(map[string]*queued),
		deferred: make(map[string]storage.EventOp),
	}
}

// Start launches the watcher goroutines. Stop shuts them down.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.consume(ctx)
	go w.sweep(ctx)
}

// Stop terminates the watcher and waits for its goroutines.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// consume pulls raw events off the adapter channel and queues them.
func (w *Watcher) consume(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			id, valid := model.BoardIDFromFilename(ev.Name)
			if !valid {
				continue
			}
			w.enqueue(id, ev.Op)
		}
	}
}

// enqueue restarts the coalescing window for the entity. A later op
// replaces an earlier one: delete supersedes modify, create then modify
// is a modify of a file that now exists.
func (w *Watcher) enqueue(entityID string, op storage.EventOp) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queue[entityID]
	if !ok {
		q = &queued{}
		w.queue[entityID] = q
	}
	q.lastEvent = time.Now()
	q.op = op
}

// sweep periodically drains entries whose coalescing window has elapsed
// and retries deferred changes whose local write has since completed.
func (w *Watcher) sweep(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range w.collect() {
				w.apply(ch)
			}
		}
	}
}

// collect gathers the changes ready to apply. Entities with a pending
// local write move to the deferred set instead; a deferred entity is
// released as soon as its write completes.
func (w *Watcher) collect() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var ready []Change

	for id, q := range w.queue {
		if now.Sub(q.lastEvent) < w.cfg.CoalesceWindow {
			continue
		}
		delete(w.queue, id)

		if w.pending(id) {
			// A local edit is in flight; applying the external read now
			// would clobber it. Reconcile after the write lands.
			w.log.Debug("external change deferred", "entity", id, "op", q.op.String())
			w.deferred[id] = q.op
			continue
		}
		ready = append(ready, Change{EntityID: id, Op: q.op})
	}

	for id, op := range w.deferred {
		if w.pending(id) {
			continue
		}
		delete(w.deferred, id)
		ready = append(ready, Change{EntityID: id, Op: op})
	}

	return ready
}

// DeferredCount reports how many external changes are waiting on local
// writes. Diagnostics only.
func (w *Watcher) DeferredCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.deferred)
}

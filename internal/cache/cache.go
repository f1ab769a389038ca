// Package cache provides the TTL-bounded read cache for derived list views.
//
// Reads are stale-while-revalidate: a stale entry is returned immediately
// while a background refresh repopulates it, except directly after an
// explicit invalidation, where the next read blocks until the refresh
// completes. A rate limiter collapses bursts of explicit refresh calls.
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the observable condition of a cached list, exposed to the UI.
type State int

const (
	// StateLoading means a load is in progress and no value is available.
	StateLoading State = iota
	// StateError means the last load failed.
	StateError
	// StateEmpty means the last load succeeded and returned no items.
	StateEmpty
	// StatePopulated means the last load succeeded with items.
	StatePopulated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	default:
		return "unknown"
	}
}

// Loader produces the list value for a key from the authoritative store.
type Loader func(key string) ([]any, error)

// ListView is what a read returns: current state plus value metadata.
type ListView struct {
	State     State
	Items     []any
	Err       string
	FetchedAt time.Time
}

// entry is a cached list with its fetch timestamp.
type entry struct {
	view ListView
}

func (e *entry) isFresh(ttl time.Duration) bool {
	return time.Since(e.view.FetchedAt) < ttl
}

// Cache is the read cache over derived list views.
type Cache struct {
	loader   Loader
	ttl      time.Duration
	throttle time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	limiters map[string]*rate.Limiter
	inFlight map[string]chan struct{}
}

// New creates a Cache. ttl bounds entry freshness (reference 5s); throttle
// collapses refresh bursts (reference 500ms).
func New(loader Loader, ttl, throttle time.Duration, log *slog.Logger) *Cache {
	return &Cache{
		loader:   loader,
		ttl:      ttl,
		throttle: throttle,
		log:      log,
		entries:  make(map[string]*entry),
		limiters: make(map[string]*rate.Limiter),
		inFlight: make(map[string]chan struct{}),
	}
}

// GetList returns the cached view for key and whether it is fresh.
//
// A missing entry (first read, or read after invalidation) blocks until a
// load completes. A stale entry is returned immediately with fresh=false
// while a throttled background refresh runs.
func (c *Cache) GetList(key string) (ListView, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.isFresh(c.ttl) {
		view := e.view
		c.mu.Unlock()
		return view, true
	}
	if ok {
		// Stale: serve it now, revalidate in the background.
		view := e.view
		c.refreshLocked(key, false)
		c.mu.Unlock()
		return view, false
	}
	// No entry: the caller blocks on the load.
	done := c.refreshLocked(key, true)
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.view, e.isFresh(c.ttl)
	}
	return ListView{State: StateLoading}, false
}

// Invalidate drops the entry for key; the next read blocks on a reload.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Refresh requests an asynchronous repopulation of key. Bursts of calls
// within the throttle window collapse into a single actual refresh.
func (c *Cache) Refresh(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(key, false)
}

// Peek returns the current view without triggering any load.
func (c *Cache) Peek(key string) (ListView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.view, true
	}
	return ListView{State: StateLoading}, false
}

// refreshLocked starts a background load for key unless one is already in
// flight or the throttle suppresses it. Returns the in-flight done channel
// (existing or new) when force is set, nil if suppressed without an
// existing load. Caller holds c.mu.
func (c *Cache) refreshLocked(key string, force bool) chan struct{} {
	if done, ok := c.inFlight[key]; ok {
		return done
	}

	if !force {
		lim, ok := c.limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Every(c.throttle), 1)
			c.limiters[key] = lim
		}
		if !lim.Allow() {
			return nil
		}
	}

	done := make(chan struct{})
	c.inFlight[key] = done

	go func() {
		items, err := c.loader(key)
		now := time.Now()

		view := ListView{FetchedAt: now}
		switch {
		case err != nil:
			view.State = StateError
			view.Err = err.Error()
			c.log.Warn("cache load failed", "key", key, "error", err)
		case len(items) == 0:
			view.State = StateEmpty
			view.Items = []any{}
		default:
			view.State = StatePopulated
			view.Items = items
		}

		c.mu.Lock()
		c.entries[key] = &entry{view: view}
		delete(c.inFlight, key)
		c.mu.Unlock()
		close(done)
	}()

	return done
}

// Describe reports entry states for diagnostics.
func (c *Cache) Describe() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.entries))
	for k, e := range c.entries {
		out[k] = fmt.Sprintf("%s (age %s)", e.view.State, time.Since(e.view.FetchedAt).Round(time.Millisecond))
	}
	return out
}

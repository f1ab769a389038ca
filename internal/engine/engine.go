// Package engine wires the persistence components together and implements
// the command handlers behind the message router.
//
// All mutable state is reached through one Engine value constructed at
// startup; there is no package-level state. Multi-step mutations (move-card
// is remove + append + reindex) run under the engine mutex so interleaved
// tasks never observe a partial update.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/boardsync/internal/cache"
	"github.com/steveyegge/boardsync/internal/carddb"
	"github.com/steveyegge/boardsync/internal/config"
	"github.com/steveyegge/boardsync/internal/model"
	"github.com/steveyegge/boardsync/internal/router"
	"github.com/steveyegge/boardsync/internal/storage"
	"github.com/steveyegge/boardsync/internal/store"
	"github.com/steveyegge/boardsync/internal/watcher"
	"github.com/steveyegge/boardsync/internal/writer"
)

// cacheKeyBoards is the read cache key for the "all boards" list view.
const cacheKeyBoards = "boards"

// Event is a change notification broadcast to connected UI clients.
type Event struct {
	Type     string `json:"type"` // board_changed, board_deleted, card_changed
	EntityID string `json:"entityId"`
	External bool   `json:"external,omitempty"`
}

// Engine owns the session state and the component graph.
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	adapter storage.Adapter

	store   *store.EntityStore
	index   *store.Index
	writer  *writer.Writer
	cache   *cache.Cache
	router  *router.Router
	watcher *watcher.Watcher
	cards   *carddb.DB // optional mirror; nil when disabled

	// mu serializes mutating handlers and external reconciliation.
	mu sync.Mutex

	broadcastMu sync.Mutex
	broadcast   func(Event)
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithCardDB attaches the SQLite card mirror.
func WithCardDB(db *carddb.DB) Option {
	return func(e *Engine) { e.cards = db }
}

// New constructs the engine and registers all command handlers.
// Call Load before serving commands, and Shutdown on exit.
func New(cfg *config.Config, adapter storage.Adapter, reg prometheus.Registerer, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		store:   store.NewEntityStore(),
		index:   store.NewIndex(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.writer = writer.New(adapter, e, cfg.DataDir, cfg.BackupDir, cfg.WriteDebounce, log)
	e.cache = cache.New(e.loadList, cfg.CacheTTL, cfg.RefreshThrottle, log)
	e.router = router.New(log, router.NewMetrics(reg))
	e.registerHandlers()
	return e
}

// Router returns the message router for transports to dispatch through.
func (e *Engine) Router() *router.Router { return e.router }

// Store exposes the entity store for read-only diagnostics.
func (e *Engine) Store() *store.EntityStore { return e.store }

// Index exposes the column index for read-only diagnostics.
func (e *Engine) Index() *store.Index { return e.index }

// SetBroadcast installs the change-event sink (the WebSocket server).
func (e *Engine) SetBroadcast(fn func(Event)) {
	e.broadcastMu.Lock()
	defer e.broadcastMu.Unlock()
	e.broadcast = fn
}

func (e *Engine) notify(ev Event) {
	e.broadcastMu.Lock()
	fn := e.broadcast
	e.broadcastMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Load performs the cold load: read every board file, populate the store,
// and rebuild the index. Invalid files are skipped with a warning.
func (e *Engine) Load() error {
	names, err := e.adapter.ListDir(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to list data directory: %w", err)
	}

	loaded := 0
	for _, name := range names {
		id, ok := model.BoardIDFromFilename(name)
		if !ok {
			continue
		}
		if err := e.loadBoard(id); err != nil {
			e.log.Warn("skipping invalid board file", "file", name, "error", err)
			continue
		}
		loaded++
	}

	e.index.Rebuild(e.store)
	e.log.Info("cold load complete", "boards", loaded, "cards", e.index.Len())

	e.warnDuplicateNames()
	e.writeSessionReadme()
	return nil
}

// warnDuplicateNames flags boards sharing a name. Handlers enforce name
// uniqueness, but files edited or copied outside the engine can collide;
// such boards are kept and reported rather than dropped.
func (e *Engine) warnDuplicateNames() {
	byName := make(map[string]string)
	for _, b := range e.store.Boards() {
		if otherID, dup := byName[b.Name]; dup {
			e.log.Warn("duplicate board name on disk",
				"name", b.Name,
				"board", b.ID,
				"conflictsWith", otherID)
			continue
		}
		byName[b.Name] = b.ID
	}
}

// loadBoard reads one board file into the store, extracting its cards into
// the card namespace. Column card lists are kept empty in memory; the index
// is the in-session ordering authority.
func (e *Engine) loadBoard(id string) error {
	path := filepath.Join(e.cfg.DataDir, id+".json")
	data, err := e.adapter.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := model.UnmarshalBoard(data)
	if err != nil {
		return err
	}

	for _, col := range b.Columns {
		for _, card := range col.Cards {
			e.store.PutCard(card)
		}
		col.Cards = nil
	}
	e.store.PutBoard(b)
	return nil
}

// Serialize implements writer.Source: the board's current in-memory state
// with cards assembled per column in index order.
//
// It runs on the writer's timer goroutine, so it takes the engine mutex to
// see entities only between complete mutations, never mid-update.
func (e *Engine) Serialize(entityID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Board(entityID)
	if err != nil {
		return nil, err
	}

	out := *b
	out.Columns = make([]*model.Column, len(b.Columns))
	for i, col := range b.Columns {
		cc := *col
		ids := e.index.CardsInColumn(col.ID)
		cc.Cards = make([]*model.Card, 0, len(ids))
		for _, cardID := range ids {
			card, err := e.store.Card(cardID)
			if err != nil {
				continue
			}
			cc.Cards = append(cc.Cards, card.Clone())
		}
		out.Columns[i] = &cc
	}
	return out.Marshal()
}

// WatchEvents connects the adapter watch to the change watcher and starts
// coalescing. Call Stop via Shutdown.
func (e *Engine) WatchEvents(ctx context.Context) error {
	events, err := e.adapter.Watch(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}

	wcfg := watcher.DefaultConfig()
	wcfg.CoalesceWindow = e.cfg.WatchCoalesce
	e.watcher = watcher.New(wcfg, events, e.writer.Pending, e.applyExternalChange, e.log)
	e.watcher.Start(ctx)
	return nil
}

// applyExternalChange reconciles one coalesced external change.
//
// The file's copy and the in-memory copy are compared by lastModified and
// the newer one wins; ties prefer the local copy. A local win re-schedules
// a durable write so disk converges. Either way the read cache is
// invalidated.
func (e *Engine) applyExternalChange(ch watcher.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch.Op == storage.OpDelete {
		e.store.Evict(ch.EntityID)
		e.index.Rebuild(e.store)
		e.cache.InvalidateAll()
		e.log.Info("board removed externally", "board", ch.EntityID)
		e.notify(Event{Type: "board_deleted", EntityID: ch.EntityID, External: true})
		return
	}

	path := filepath.Join(e.cfg.DataDir, ch.EntityID+".json")
	data, err := e.adapter.ReadFile(path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between the event and the read; treat as delete.
			e.store.Evict(ch.EntityID)
			e.index.Rebuild(e.store)
			e.cache.InvalidateAll()
			return
		}
		e.log.Warn("failed to read externally changed board", "board", ch.EntityID, "error", err)
		return
	}

	external, err := model.UnmarshalBoard(data)
	if err != nil {
		e.log.Warn("externally changed board is invalid, keeping local copy", "board", ch.EntityID, "error", err)
		return
	}

	if local, err := e.store.Board(ch.EntityID); err == nil {
		if local.UpdatedAt.After(external.UpdatedAt) {
			// Conflict resolved in favor of the local copy; not a
			// user-facing failure.
			e.log.Warn("conflict resolved: local copy newer, re-persisting",
				"board", ch.EntityID,
				"local", local.UpdatedAt,
				"external", external.UpdatedAt)
			e.writer.ScheduleWrite(ch.EntityID)
			return
		}
	}

	e.store.Evict(ch.EntityID)
	for _, col := range external.Columns {
		for _, card := range col.Cards {
			e.store.PutCard(card)
		}
		col.Cards = nil
	}
	e.store.PutBoard(external)
	e.index.Rebuild(e.store)
	e.cache.InvalidateAll()
	if e.store.BoardNameInUse(external.Name, external.ID) {
		e.log.Warn("externally changed board duplicates an existing name",
			"name", external.Name, "board", external.ID)
	}
	e.log.Info("board reloaded from external change", "board", ch.EntityID)
	e.notify(Event{Type: "board_changed", EntityID: ch.EntityID, External: true})
}

// loadList is the read cache loader for list views. The cache invokes it
// on a background goroutine; the engine mutex keeps the summaries coherent
// against concurrent handler mutations.
func (e *Engine) loadList(key string) ([]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch key {
	case cacheKeyBoards:
		boards := e.store.Boards()
		items := make([]any, len(boards))
		for i, b := range boards {
			items[i] = e.boardSummary(b)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unknown list key %q", key)
	}
}

// writeSessionReadme (re)writes the informational README in the data
// directory. Failures are logged only.
func (e *Engine) writeSessionReadme() {
	readme := []byte(`# boardsync data directory

One JSON file per board ({id}.json). Files are written by the boardsync
engine with a debounced last-write-wins policy; edits made while the engine
is running are detected and merged by modification time. Backup copies live
under backups/.
`)
	path := filepath.Join(e.cfg.DataDir, "README.md")
	if err := e.adapter.WriteFile(path, readme); err != nil {
		e.log.Warn("failed to write data directory README", "error", err)
	}
}

// Shutdown stops the watcher, flushes every pending write synchronously,
// and closes the adapter and card mirror. Used on graceful exit so at most
// the state inside an open debounce window can be lost on an abrupt kill.
func (e *Engine) Shutdown() error {
	if e.watcher != nil {
		e.watcher.Stop()
	}

	var firstErr error
	if err := e.writer.FlushAll(); err != nil {
		firstErr = err
	}
	if err := e.adapter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.cards != nil {
		if err := e.cards.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Package store holds the in-memory entity state for a session: the entity
// store (single mutable source of truth) and the column index built over it.
//
// The store performs no I/O. The durable writer serializes from it; the
// change watcher evicts from it when external edits land.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/boardsync/internal/model"
)

// ErrNotFound is returned when a referenced board, column, or card id
// does not exist in the active namespace.
var ErrNotFound = errors.New("not found")

// EntityStore holds all boards and cards for the session.
//
// Cards live in two namespaces: active and deleted. A card is visible to
// the index and to default enumeration iff it is active. Moving a card
// between namespaces is a single step under the store mutex.
type EntityStore struct {
	mu      sync.RWMutex
	boards  map[string]*model.Board
	cards   map[string]*model.Card
	deleted map[string]*model.DeletedCard
}

// NewEntityStore creates an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		boards:  make(map[string]*model.Board),
		cards:   make(map[string]*model.Card),
		deleted: make(map[string]*model.DeletedCard),
	}
}

// Board returns the board with the given id.
func (s *EntityStore) Board(id string) (*model.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[id]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	return b, nil
}

// PutBoard inserts or replaces a board.
func (s *EntityStore) PutBoard(b *model.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[b.ID] = b
}

// DeleteBoard removes a board from the store.
func (s *EntityStore) DeleteBoard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[id]; !ok {
		return fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	delete(s.boards, id)
	return nil
}

// Boards returns all boards sorted by name.
func (s *EntityStore) Boards() []*model.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Board, 0, len(s.boards))
	for _, b := range s.boards {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BoardNameInUse reports whether another board already uses the name.
func (s *EntityStore) BoardNameInUse(name, excludeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.boards {
		if b.ID != excludeID && b.Name == name {
			return true
		}
	}
	return false
}

// BoardForColumn returns the board owning the given column id.
func (s *EntityStore) BoardForColumn(columnID string) (*model.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.boards {
		if b.Column(columnID) != nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("column %s: %w", columnID, ErrNotFound)
}

// Card returns the active card with the given id.
func (s *EntityStore) Card(id string) (*model.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// PutCard inserts or replaces an active card.
func (s *EntityStore) PutCard(c *model.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
}

// Cards returns all active cards in unspecified order.
func (s *EntityStore) Cards() []*model.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Card, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c)
	}
	return out
}

// CardsWhere returns the active cards matching pred.
func (s *EntityStore) CardsWhere(pred func(*model.Card) bool) []*model.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Card
	for _, c := range s.cards {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// SoftDeleteCard moves a card from the active to the deleted namespace.
// Deleting an already-deleted or unknown card returns ErrNotFound.
func (s *EntityStore) SoftDeleteCard(id string) (*model.DeletedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	dc := &model.DeletedCard{Card: *c.Clone(), DeletedAt: time.Now()}
	delete(s.cards, id)
	s.deleted[id] = dc
	return dc, nil
}

// RestoreCard moves a card from the deleted namespace back to active.
// Restoring a card that is not soft-deleted returns ErrNotFound.
func (s *EntityStore) RestoreCard(id string) (*model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.deleted[id]
	if !ok {
		return nil, fmt.Errorf("deleted card %s: %w", id, ErrNotFound)
	}
	c := dc.Card.Clone()
	c.Touch()
	delete(s.deleted, id)
	s.cards[id] = c
	return c, nil
}

// PurgeCard permanently removes a card from the deleted namespace.
func (s *EntityStore) PurgeCard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deleted[id]; !ok {
		return fmt.Errorf("deleted card %s: %w", id, ErrNotFound)
	}
	delete(s.deleted, id)
	return nil
}

// DeletedCards returns all soft-deleted cards sorted by deletion time,
// most recent first.
func (s *EntityStore) DeletedCards() []*model.DeletedCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.DeletedCard, 0, len(s.deleted))
	for _, dc := range s.deleted {
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(out[j].DeletedAt) })
	return out
}

// Evict drops a board and its cards from the store without touching the
// deleted namespace. Used by the change watcher when an external edit
// invalidates the cached copy.
func (s *EntityStore) Evict(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[boardID]
	if !ok {
		return
	}
	for _, col := range b.Columns {
		for _, card := range col.Cards {
			delete(s.cards, card.ID)
		}
	}
	// Cards may have been re-homed since load; sweep by column ownership too.
	for id, c := range s.cards {
		if b.Column(c.ColumnID) != nil {
			delete(s.cards, id)
		}
	}
	delete(s.boards, boardID)
}

// Counts returns the number of boards, active cards, and deleted cards.
func (s *EntityStore) Counts() (boards, cards, deleted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.boards), len(s.cards), len(s.deleted)
}

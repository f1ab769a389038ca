package store

import (
	"sort"
	"sync"

	"github.com/steveyegge/boardsync/internal/model"
)

// Index is the secondary index mapping column id to the ordered card ids
// in that column. It is patched incrementally on every card mutation and
// rebuilt in full only after a cold load or an external change whose diff
// is not trivially known.
//
// Ordering is by Card.Order, ties broken by id, so the sort is stable
// across rebuilds.
type Index struct {
	mu      sync.RWMutex
	columns map[string][]indexEntry // columnID -> sorted entries
	cardCol map[string]string       // cardID -> columnID
}

type indexEntry struct {
	cardID string
	order  int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		columns: make(map[string][]indexEntry),
		cardCol: make(map[string]string),
	}
}

// Rebuild replaces the index contents with a full scan of the store's
// active cards. O(n log n) over all cards.
func (ix *Index) Rebuild(s *EntityStore) {
	cards := s.Cards()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.columns = make(map[string][]indexEntry, len(ix.columns))
	ix.cardCol = make(map[string]string, len(cards))

	for _, c := range cards {
		ix.columns[c.ColumnID] = append(ix.columns[c.ColumnID], indexEntry{cardID: c.ID, order: c.Order})
		ix.cardCol[c.ID] = c.ColumnID
	}
	for col := range ix.columns {
		sortEntries(ix.columns[col])
	}
}

// OnCardUpsert patches the index for a created or updated card.
// If the card moved columns, stale membership in the old column is removed.
func (ix *Index) OnCardUpsert(c *model.Card) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.cardCol[c.ID]; ok {
		ix.columns[prev] = removeEntry(ix.columns[prev], c.ID)
	}

	entries := append(ix.columns[c.ColumnID], indexEntry{cardID: c.ID, order: c.Order})
	sortEntries(entries)
	ix.columns[c.ColumnID] = entries
	ix.cardCol[c.ID] = c.ColumnID
}

// OnCardRemove drops a card from the index. Unknown ids are a no-op.
func (ix *Index) OnCardRemove(cardID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	col, ok := ix.cardCol[cardID]
	if !ok {
		return
	}
	ix.columns[col] = removeEntry(ix.columns[col], cardID)
	delete(ix.cardCol, cardID)
}

// OnColumnRemove drops a whole column from the index.
func (ix *Index) OnColumnRemove(columnID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range ix.columns[columnID] {
		delete(ix.cardCol, e.cardID)
	}
	delete(ix.columns, columnID)
}

// CardsInColumn returns the card ids in the column sorted by order then id.
func (ix *Index) CardsInColumn(columnID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.columns[columnID]
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.cardID
	}
	return out
}

// ColumnOf returns the column currently indexed for the card, if any.
func (ix *Index) ColumnOf(cardID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	col, ok := ix.cardCol[cardID]
	return col, ok
}

// Len returns the number of indexed cards.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.cardCol)
}

func sortEntries(entries []indexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].cardID < entries[j].cardID
	})
}

func removeEntry(entries []indexEntry, cardID string) []indexEntry {
	for i, e := range entries {
		if e.cardID == cardID {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/steveyegge/boardsync/internal/model"
)

func newCard(id, columnID string, order int) *model.Card {
	now := time.Now()
	return &model.Card{
		ID:        id,
		Title:     "card " + id,
		ColumnID:  columnID,
		Order:     order,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newBoard(id, name string, columnIDs ...string) *model.Board {
	now := time.Now()
	b := &model.Board{ID: id, Name: name, CreatedAt: now, UpdatedAt: now, Version: model.SchemaVersion}
	for _, cid := range columnIDs {
		b.Columns = append(b.Columns, &model.Column{ID: cid, Title: "col " + cid})
	}
	return b
}

// TestEntityStore_BoardLookup verifies basic board CRUD and NotFound.
func TestEntityStore_BoardLookup(t *testing.T) {
	s := NewEntityStore()

	if _, err := s.Board("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	b := newBoard("b1", "Sprint 1", "c1")
	s.PutBoard(b)

	got, err := s.Board("b1")
	if err != nil {
		t.Fatalf("Board() failed: %v", err)
	}
	if got.Name != "Sprint 1" {
		t.Errorf("Name = %q, want %q", got.Name, "Sprint 1")
	}

	if err := s.DeleteBoard("b1"); err != nil {
		t.Fatalf("DeleteBoard() failed: %v", err)
	}
	if err := s.DeleteBoard("b1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

// TestEntityStore_BoardNameInUse verifies the name uniqueness check
// excludes the board being renamed.
func TestEntityStore_BoardNameInUse(t *testing.T) {
	s := NewEntityStore()
	s.PutBoard(newBoard("b1", "Sprint 1"))
	s.PutBoard(newBoard("b2", "Sprint 2"))

	if !s.BoardNameInUse("Sprint 1", "") {
		t.Error("expected Sprint 1 to be in use")
	}
	if s.BoardNameInUse("Sprint 1", "b1") {
		t.Error("rename to own name should not conflict")
	}
	if s.BoardNameInUse("Sprint 3", "") {
		t.Error("unused name reported as in use")
	}
}

// TestEntityStore_SoftDeleteIdempotent verifies that deleting an
// already-deleted card returns NotFound, and that restoring a card that
// was never deleted returns NotFound.
func TestEntityStore_SoftDeleteIdempotent(t *testing.T) {
	s := NewEntityStore()
	s.PutCard(newCard("card-1", "c1", 0))

	dc, err := s.SoftDeleteCard("card-1")
	if err != nil {
		t.Fatalf("SoftDeleteCard() failed: %v", err)
	}
	if dc.DeletedAt.IsZero() {
		t.Error("DeletedAt not set")
	}

	if _, err := s.SoftDeleteCard("card-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}

	if _, err := s.RestoreCard("never-deleted"); !errors.Is(err, ErrNotFound) {
		t.Errorf("restore of non-deleted card: expected ErrNotFound, got %v", err)
	}
}

// TestEntityStore_RestoreRoundTrip verifies delete then restore returns
// the card to the active namespace with its fields intact.
func TestEntityStore_RestoreRoundTrip(t *testing.T) {
	s := NewEntityStore()
	orig := newCard("card-1", "c1", 3)
	orig.Tags = []string{"keep"}
	s.PutCard(orig)

	if _, err := s.SoftDeleteCard("card-1"); err != nil {
		t.Fatalf("SoftDeleteCard() failed: %v", err)
	}
	if _, err := s.Card("card-1"); !errors.Is(err, ErrNotFound) {
		t.Error("deleted card still visible in active namespace")
	}

	restored, err := s.RestoreCard("card-1")
	if err != nil {
		t.Fatalf("RestoreCard() failed: %v", err)
	}
	if restored.Order != 3 || len(restored.Tags) != 1 {
		t.Errorf("restored card lost fields: %+v", restored)
	}

	if _, err := s.Card("card-1"); err != nil {
		t.Errorf("restored card not in active namespace: %v", err)
	}
	if len(s.DeletedCards()) != 0 {
		t.Error("restored card still in deleted namespace")
	}
}

// TestEntityStore_PurgeCard verifies permanent deletion of tombstones.
func TestEntityStore_PurgeCard(t *testing.T) {
	s := NewEntityStore()
	s.PutCard(newCard("card-1", "c1", 0))

	if err := s.PurgeCard("card-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("purge of active card: expected ErrNotFound, got %v", err)
	}

	if _, err := s.SoftDeleteCard("card-1"); err != nil {
		t.Fatalf("SoftDeleteCard() failed: %v", err)
	}
	if err := s.PurgeCard("card-1"); err != nil {
		t.Fatalf("PurgeCard() failed: %v", err)
	}
	if err := s.PurgeCard("card-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second purge: expected ErrNotFound, got %v", err)
	}
}

// TestEntityStore_BoardForColumn verifies column ownership lookup.
func TestEntityStore_BoardForColumn(t *testing.T) {
	s := NewEntityStore()
	s.PutBoard(newBoard("b1", "One", "c1", "c2"))
	s.PutBoard(newBoard("b2", "Two", "c3"))

	b, err := s.BoardForColumn("c3")
	if err != nil {
		t.Fatalf("BoardForColumn() failed: %v", err)
	}
	if b.ID != "b2" {
		t.Errorf("BoardForColumn(c3) = %s, want b2", b.ID)
	}

	if _, err := s.BoardForColumn("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestEntityStore_Evict verifies eviction drops the board and its cards
// without touching the deleted namespace.
func TestEntityStore_Evict(t *testing.T) {
	s := NewEntityStore()
	s.PutBoard(newBoard("b1", "One", "c1"))
	s.PutCard(newCard("card-1", "c1", 0))
	s.PutCard(newCard("card-2", "c1", 1))
	if _, err := s.SoftDeleteCard("card-2"); err != nil {
		t.Fatalf("SoftDeleteCard() failed: %v", err)
	}

	s.Evict("b1")

	boards, cards, deleted := s.Counts()
	if boards != 0 || cards != 0 {
		t.Errorf("Counts() after evict = (%d boards, %d cards), want (0, 0)", boards, cards)
	}
	if deleted != 1 {
		t.Errorf("eviction touched the deleted namespace: %d tombstones, want 1", deleted)
	}
}

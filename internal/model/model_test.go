package model

import (
	"testing"
	"time"
)

func validCard() *Card {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &Card{
		ID:          "card-1",
		Title:       "Fix bug",
		Description: "stack trace attached",
		ColumnID:    "col-1",
		Order:       2,
		Priority:    1,
		Tags:        []string{"bug", "urgent"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func validBoard() *Board {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &Board{
		ID:        "board-1",
		Name:      "Sprint 1",
		Columns:   []*Column{{ID: "col-1", Title: "To Do", Cards: []*Card{validCard()}}},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   SchemaVersion,
	}
}

// TestBoardRoundTrip verifies that a serialized board parses back
// field-for-field, including nested cards and timestamps.
func TestBoardRoundTrip(t *testing.T) {
	b := validBoard()

	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	got, err := UnmarshalBoard(data)
	if err != nil {
		t.Fatalf("UnmarshalBoard() failed: %v", err)
	}

	if got.ID != b.ID || got.Name != b.Name || got.Version != b.Version {
		t.Errorf("board fields changed in round trip: got %+v", got)
	}
	if !got.CreatedAt.Equal(b.CreatedAt) || !got.UpdatedAt.Equal(b.UpdatedAt) {
		t.Errorf("timestamps changed: got %v / %v, want %v / %v",
			got.CreatedAt, got.UpdatedAt, b.CreatedAt, b.UpdatedAt)
	}
	if len(got.Columns) != 1 {
		t.Fatalf("expected 1 column, got %d", len(got.Columns))
	}

	wantCard := b.Columns[0].Cards[0]
	gotCard := got.Columns[0].Cards[0]
	if gotCard.ID != wantCard.ID || gotCard.Title != wantCard.Title ||
		gotCard.ColumnID != wantCard.ColumnID || gotCard.Order != wantCard.Order ||
		gotCard.Priority != wantCard.Priority {
		t.Errorf("card fields changed in round trip: got %+v, want %+v", gotCard, wantCard)
	}
	if !gotCard.CreatedAt.Equal(wantCard.CreatedAt) || !gotCard.UpdatedAt.Equal(wantCard.UpdatedAt) {
		t.Errorf("card timestamps changed in round trip")
	}
	if len(gotCard.Tags) != 2 || gotCard.Tags[0] != "bug" {
		t.Errorf("card tags changed in round trip: got %v", gotCard.Tags)
	}
}

// TestCardValidate exercises every rejection path.
func TestCardValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Card)
	}{
		{"missing id", func(c *Card) { c.ID = "" }},
		{"missing title", func(c *Card) { c.Title = "" }},
		{"missing column", func(c *Card) { c.ColumnID = "" }},
		{"priority too high", func(c *Card) { c.Priority = 5 }},
		{"priority negative", func(c *Card) { c.Priority = -1 }},
		{"zero createdAt", func(c *Card) { c.CreatedAt = time.Time{} }},
		{"zero lastModified", func(c *Card) { c.UpdatedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCard()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}

	if err := validCard().Validate(); err != nil {
		t.Errorf("valid card rejected: %v", err)
	}
}

// TestBoardValidate_DuplicateColumn verifies duplicate column ids are
// rejected.
func TestBoardValidate_DuplicateColumn(t *testing.T) {
	b := validBoard()
	b.Columns = append(b.Columns, &Column{ID: "col-1", Title: "Done"})
	if err := b.Validate(); err == nil {
		t.Error("expected duplicate column id to be rejected")
	}
}

// TestSanitizeTitle verifies the pass/fail + sanitized-value contract.
func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Fix bug", "Fix bug", true},
		{"  padded  ", "padded", true},
		{"tab\there", "tabhere", true},
		{"\x00\x01", "", false},
		{"   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := SanitizeTitle(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SanitizeTitle(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// TestBoardIDFromFilename verifies board file name parsing.
func TestBoardIDFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{"abc.json", "abc", true},
		{"abc.txt", "", false},
		{".json", "", false},
		{"README.md", "", false},
	}
	for _, tt := range tests {
		id, ok := BoardIDFromFilename(tt.name)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("BoardIDFromFilename(%q) = (%q, %v), want (%q, %v)", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

// TestUnmarshalBoard_FutureVersion verifies newer schema versions are
// refused rather than silently misread.
func TestUnmarshalBoard_FutureVersion(t *testing.T) {
	b := validBoard()
	b.Version = SchemaVersion + 1
	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if _, err := UnmarshalBoard(data); err == nil {
		t.Error("expected future version to be rejected")
	}
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is written into every board file.
// Readers accept any version <= SchemaVersion; there is no migration tooling.
const SchemaVersion = 1

// Board is the top-level entity, persisted as one JSON file per board.
// Column order in Columns defines display order.
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Columns     []*Column `json:"columns"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"lastModified"`
	Version     int       `json:"version"`
}

// Column groups cards within a board. Card order is the list order at the
// persistence layer; the in-memory index sorts by Card.Order.
type Column struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Cards     []*Card `json:"cards"`
	CardLimit int     `json:"cardLimit,omitempty"` // 0 = unlimited
}

// Validate checks that the Board has valid field values.
// Column and card validation cascades.
func (b *Board) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if b.UpdatedAt.IsZero() {
		return fmt.Errorf("lastModified is required")
	}
	seen := make(map[string]bool, len(b.Columns))
	for _, col := range b.Columns {
		if col.ID == "" {
			return fmt.Errorf("column id is required")
		}
		if seen[col.ID] {
			return fmt.Errorf("duplicate column id %s", col.ID)
		}
		seen[col.ID] = true
		if col.Title == "" {
			return fmt.Errorf("column %s: title is required", col.ID)
		}
		for _, card := range col.Cards {
			if err := card.Validate(); err != nil {
				return fmt.Errorf("column %s: invalid card: %w", col.ID, err)
			}
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (b *Board) SetDefaults() {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if b.Columns == nil {
		b.Columns = []*Column{}
	}
	if b.Version == 0 {
		b.Version = SchemaVersion
	}
	for _, col := range b.Columns {
		if col.Cards == nil {
			col.Cards = []*Card{}
		}
		for _, card := range col.Cards {
			card.SetDefaults()
		}
	}
}

// Touch sets UpdatedAt to the current time.
func (b *Board) Touch() {
	b.UpdatedAt = time.Now()
}

// Column returns the column with the given id, or nil.
func (b *Board) Column(id string) *Column {
	for _, col := range b.Columns {
		if col.ID == id {
			return col
		}
	}
	return nil
}

// Filename returns the canonical filename for this board: {id}.json.
func (b *Board) Filename() string {
	return b.ID + ".json"
}

// Marshal serializes the board to pretty-printed JSON.
// Dates serialize as ISO-8601 (RFC 3339) strings via time.Time.
func (b *Board) Marshal() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("cannot serialize invalid board: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board %s: %w", b.ID, err)
	}
	return data, nil
}

// UnmarshalBoard parses and validates a serialized board.
func UnmarshalBoard(data []byte) (*Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse board: %w", err)
	}
	if b.Version > SchemaVersion {
		return nil, fmt.Errorf("board %s has unsupported version %d", b.ID, b.Version)
	}
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board: %w", err)
	}
	return &b, nil
}

// BoardIDFromFilename extracts the board id from a {id}.json filename.
// Returns false for names that are not board files.
func BoardIDFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".json")
	return id, id != ""
}

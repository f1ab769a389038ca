// Package model provides the entity types persisted by the boardsync engine.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Card is a single work item within a column.
// Fields are flat with last-write-wins semantics: UpdatedAt resolves
// conflicts between local and external copies of the same card.
type Card struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// ===== Placement =====
	ColumnID string `json:"columnId"`
	Order    int    `json:"order"`

	// ===== Classification =====
	Priority int      `json:"priority,omitempty"` // 0-4 (0=critical, 4=backlog)
	Tags     []string `json:"tags,omitempty"`

	// ===== Timestamps (conflict resolution) =====
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"lastModified"`
}

// DeletedCard is a soft-deleted card retained for recovery.
// Deleted cards live in a separate namespace and never appear in the
// column index or default enumerations.
type DeletedCard struct {
	Card      Card      `json:"card"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Validate checks that the Card has valid field values.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(c.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(c.Title))
	}
	if c.ColumnID == "" {
		return fmt.Errorf("columnId is required")
	}
	if c.Priority < 0 || c.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", c.Priority)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if c.UpdatedAt.IsZero() {
		return fmt.Errorf("lastModified is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Card) SetDefaults() {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Touch sets UpdatedAt to the current time.
// Call whenever any field is modified.
func (c *Card) Touch() {
	c.UpdatedAt = time.Now()
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	cp := *c
	if c.Tags != nil {
		cp.Tags = append([]string(nil), c.Tags...)
	}
	return &cp
}

// SanitizeTitle trims surrounding whitespace and strips control characters.
// Returns the sanitized title and whether it is non-empty (usable).
func SanitizeTitle(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	return out, out != ""
}

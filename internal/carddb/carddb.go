// Package carddb provides the card-level key-value mirror backed by
// embedded SQLite (WAL mode).
//
// Board files remain the durable source of truth; this store keeps each
// card under its own key so hosts with a key-value storage API can read
// cards without parsing board files. The key namespace is:
//
//	<prefix>.<cardId>          active card JSON
//	<prefix>.index             columnId -> ordered []cardId mapping
//	<prefix>.deleted.<cardId>  soft-deleted card JSON
package carddb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/boardsync/internal/model"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "boardsync.card"

// DB wraps the SQLite connection holding the card key namespace.
type DB struct {
	conn   *sql.DB
	path   string
	prefix string
}

// Open creates or opens the card database at path.
//
// The database runs in embedded mode with WAL for concurrent reads.
// The caller must Close() when done.
func Open(path, prefix string) (*DB, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: path, prefix: prefix}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates the kv table. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_prefix ON kv(key);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (db *DB) cardKey(cardID string) string    { return db.prefix + "." + cardID }
func (db *DB) deletedKey(cardID string) string { return db.prefix + ".deleted." + cardID }
func (db *DB) indexKey() string                { return db.prefix + ".index" }

// PutCard upserts an active card under its key. Any tombstone for the
// same card is removed.
func (db *DB) PutCard(ctx context.Context, c *model.Card) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal card %s: %w", c.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, db.cardKey(c.ID), string(data)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, db.deletedKey(c.ID)); err != nil {
		return fmt.Errorf("failed to clear tombstone for %s: %w", c.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetCard reads an active card. Returns sql.ErrNoRows (wrapped) if absent.
func (db *DB) GetCard(ctx context.Context, cardID string) (*model.Card, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, db.cardKey(cardID)).Scan(&value)
	if err != nil {
		return nil, fmt.Errorf("card %s: %w", cardID, err)
	}
	var c model.Card
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return nil, fmt.Errorf("failed to parse card %s: %w", cardID, err)
	}
	return &c, nil
}

// SoftDeleteCard moves a card's value from the active key to the deleted
// namespace in one transaction.
func (db *DB) SoftDeleteCard(ctx context.Context, dc *model.DeletedCard) error {
	data, err := json.Marshal(dc)
	if err != nil {
		return fmt.Errorf("failed to marshal deleted card %s: %w", dc.Card.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, db.cardKey(dc.Card.ID)); err != nil {
		return fmt.Errorf("failed to remove active key for %s: %w", dc.Card.ID, err)
	}
	if err := upsert(ctx, tx, db.deletedKey(dc.Card.ID), string(data)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// PurgeCard removes a tombstone permanently. Idempotent.
func (db *DB) PurgeCard(ctx context.Context, cardID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, db.deletedKey(cardID)); err != nil {
		return fmt.Errorf("failed to purge card %s: %w", cardID, err)
	}
	return nil
}

// WriteIndex stores the columnId -> ordered card ids mapping under the
// index key, replacing the previous mapping.
func (db *DB) WriteIndex(ctx context.Context, index map[string][]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, db.indexKey(), string(data)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ReadIndex loads the stored index mapping. A missing index key yields an
// empty mapping.
func (db *DB) ReadIndex(ctx context.Context) (map[string][]string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, db.indexKey()).Scan(&value)
	if err == sql.ErrNoRows {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var index map[string][]string
	if err := json.Unmarshal([]byte(value), &index); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return index, nil
}

// ListDeleted returns all tombstoned cards.
func (db *DB) ListDeleted(ctx context.Context) ([]*model.DeletedCard, error) {
	pattern := db.prefix + ".deleted.%"
	rows, err := db.conn.QueryContext(ctx, `SELECT value FROM kv WHERE key LIKE ?`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted cards: %w", err)
	}
	defer rows.Close()

	var out []*model.DeletedCard
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var dc model.DeletedCard
		if err := json.Unmarshal([]byte(value), &dc); err != nil {
			return nil, fmt.Errorf("failed to parse deleted card: %w", err)
		}
		out = append(out, &dc)
	}
	return out, rows.Err()
}

// CardCount returns the number of active card keys.
func (db *DB) CardCount(ctx context.Context) (int, error) {
	deletedPrefix := db.prefix + ".deleted."
	pattern := db.prefix + ".%"
	rows, err := db.conn.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ?`, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return 0, fmt.Errorf("failed to scan row: %w", err)
		}
		if key == db.indexKey() || strings.HasPrefix(key, deletedPrefix) {
			continue
		}
		count++
	}
	return count, rows.Err()
}

// upsert writes one key inside a transaction.
func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, key, value, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to upsert key %s: %w", key, err)
	}
	return nil
}

// Package store persists processed-email fingerprints and extracted
// items in SQLite. Fingerprint registration and item persistence for a
// batch commit in one transaction, so a crash between generation and
// persistence can never leave a fingerprint marked processed without
// its backing items.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/secrets"
)

const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint  TEXT NOT NULL PRIMARY KEY,
	processed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id             TEXT NOT NULL PRIMARY KEY,
	content        BLOB NOT NULL,
	item_type      TEXT NOT NULL,
	source_indices TEXT NOT NULL,
	evidence       BLOB NOT NULL,
	confidence     INTEGER NOT NULL,
	source_status  TEXT NOT NULL,
	report_date    TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_report_date ON items(report_date);
`

// Item is one persisted extracted item.
type Item struct {
	ID         string
	ReportDate string
	CreatedAt  time.Time
	extraction.ExtractedItem
}

// Store is the durable fingerprint registry plus item persistence.
// Content and evidence pass through the field codec before hitting disk.
type Store struct {
	db    *sql.DB
	codec secrets.Codec
	now   func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, codec secrets.Codec) (*Store, error) {
	// The default 5s busy timeout is too short under concurrent readers.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, int(time.Minute/time.Millisecond))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, codec: codec, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Exists reports whether a fingerprint was registered by an earlier batch.
func (s *Store) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM fingerprints WHERE fingerprint = ?`, fingerprint).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return true, nil
}

// Upsert registers a single fingerprint outside a batch commit.
func (s *Store) Upsert(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (fingerprint, processed_at) VALUES (?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

// SaveBatch commits a batch's fingerprints and items in one transaction.
func (s *Store) SaveBatch(ctx context.Context, fingerprints []string, items []Item) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	processedAt := s.now().UTC().Format(time.RFC3339)
	for _, fp := range fingerprints {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO fingerprints (fingerprint, processed_at) VALUES (?, ?)
			 ON CONFLICT(fingerprint) DO NOTHING`, fp, processedAt); err != nil {
			return fmt.Errorf("register fingerprint: %w", err)
		}
	}

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = s.now().UTC()
		}

		var content, evidence []byte
		if content, err = s.codec.Encrypt(item.Content); err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
		if evidence, err = s.codec.Encrypt(item.Evidence); err != nil {
			return fmt.Errorf("encrypt evidence: %w", err)
		}
		var indices []byte
		if indices, err = json.Marshal(item.SourceIndices); err != nil {
			return fmt.Errorf("marshal source indices: %w", err)
		}

		if _, err = tx.ExecContext(ctx,
			`INSERT INTO items (id, content, item_type, source_indices, evidence,
			                    confidence, source_status, report_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, content, string(item.Type), string(indices), evidence,
			item.Confidence, string(item.SourceStatus), item.ReportDate,
			item.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

// ItemsByDate returns the decrypted items stored for a report date.
func (s *Store) ItemsByDate(ctx context.Context, reportDate string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, item_type, source_indices, evidence,
		        confidence, source_status, report_date, created_at
		 FROM items WHERE report_date = ? ORDER BY created_at`, reportDate)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item              Item
			content, evidence []byte
			indices           string
			itemType, status  string
			createdAt         string
		)
		if err := rows.Scan(&item.ID, &content, &itemType, &indices, &evidence,
			&item.Confidence, &status, &item.ReportDate, &createdAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if item.Content, err = s.codec.Decrypt(content); err != nil {
			return nil, fmt.Errorf("decrypt content: %w", err)
		}
		if item.Evidence, err = s.codec.Decrypt(evidence); err != nil {
			return nil, fmt.Errorf("decrypt evidence: %w", err)
		}
		if err := json.Unmarshal([]byte(indices), &item.SourceIndices); err != nil {
			return nil, fmt.Errorf("unmarshal source indices: %w", err)
		}
		item.Type = extraction.ItemType(itemType)
		item.SourceStatus = extraction.SourceStatus(status)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			item.CreatedAt = t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

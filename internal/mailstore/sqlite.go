// Package mailstore persists email documents in SQLite.
package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/inboxd/internal/mail"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// Config configures the SQLite document store.
type Config struct {
	// Path is the database file location.
	Path string `koanf:"path"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Path: "~/.config/inboxd/mail.db"}
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT NOT NULL,
	org_id      TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	message_id  TEXT NOT NULL DEFAULT '',
	thread_id   TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	sent_at     INTEGER NOT NULL DEFAULT 0,
	body_text   TEXT NOT NULL DEFAULT '',
	is_embedded INTEGER NOT NULL DEFAULT 0,
	embedded_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_pending
	ON documents (org_id, user_id, is_embedded);
`

// SQLiteStore implements mail.Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates the database file if needed and applies the schema.
func Open(config Config) (*SQLiteStore, error) {
	path, err := expandHomePath(config.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert saves a document, replacing any existing row with the same
// tenant and ID.
func (s *SQLiteStore) Insert(ctx context.Context, doc *mail.Document) error {
	if doc.ID == "" {
		return errors.New("document ID is required")
	}
	if err := doc.Tenant().Validate(); err != nil {
		return err
	}

	var embeddedAt int64
	if doc.IsEmbedded {
		embeddedAt = doc.EmbeddedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
			(id, org_id, user_id, message_id, thread_id, subject,
			 sender, sender_name, sent_at, body_text, is_embedded, embedded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OrgID, doc.UserID, doc.MessageID, doc.ThreadID, doc.Subject,
		doc.Sender, doc.SenderName, doc.SentAt.Unix(), doc.BodyText,
		boolToInt(doc.IsEmbedded), embeddedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get returns one document by ID, scoped to the tenant.
func (s *SQLiteStore) Get(ctx context.Context, tn tenant.Tenant, id string) (*mail.Document, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE org_id = ? AND user_id = ? AND id = ?`,
		tn.OrgID, tn.UserID, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mail.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the tenant's documents in sent order.
func (s *SQLiteStore) ListDocuments(ctx context.Context, tn tenant.Tenant, pendingOnly bool) ([]*mail.Document, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}

	query := selectColumns + ` WHERE org_id = ? AND user_id = ?`
	if pendingOnly {
		query += ` AND is_embedded = 0`
	}
	query += ` ORDER BY sent_at, id`

	rows, err := s.db.QueryContext(ctx, query, tn.OrgID, tn.UserID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*mail.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkEmbedded records that the document's chunks were indexed.
func (s *SQLiteStore) MarkEmbedded(ctx context.Context, tn tenant.Tenant, id string, at time.Time) error {
	if err := tn.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_embedded = 1, embedded_at = ?
		WHERE org_id = ? AND user_id = ? AND id = ?`,
		at.Unix(), tn.OrgID, tn.UserID, id)
	if err != nil {
		return fmt.Errorf("mark embedded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mail.ErrNotFound
	}
	return nil
}

// Counts returns document totals for the tenant.
func (s *SQLiteStore) Counts(ctx context.Context, tn tenant.Tenant) (mail.Counts, error) {
	if err := tn.Validate(); err != nil {
		return mail.Counts{}, err
	}

	var counts mail.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_embedded), 0)
		FROM documents WHERE org_id = ? AND user_id = ?`,
		tn.OrgID, tn.UserID).Scan(&counts.Total, &counts.Embedded)
	if err != nil {
		return mail.Counts{}, fmt.Errorf("count documents: %w", err)
	}
	return counts, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, org_id, user_id, message_id, thread_id, subject,
	       sender, sender_name, sent_at, body_text, is_embedded, embedded_at
	FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*mail.Document, error) {
	var doc mail.Document
	var sentAt, embeddedAt int64
	var isEmbedded int

	err := row.Scan(&doc.ID, &doc.OrgID, &doc.UserID, &doc.MessageID,
		&doc.ThreadID, &doc.Subject, &doc.Sender, &doc.SenderName,
		&sentAt, &doc.BodyText, &isEmbedded, &embeddedAt)
	if err != nil {
		return nil, err
	}

	doc.SentAt = time.Unix(sentAt, 0).UTC()
	doc.IsEmbedded = isEmbedded != 0
	if embeddedAt > 0 {
		doc.EmbeddedAt = time.Unix(embeddedAt, 0).UTC()
	}
	return &doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expandHomePath(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

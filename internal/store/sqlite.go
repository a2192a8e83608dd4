package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/sjson"
	_ "modernc.org/sqlite"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	uid        TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	body       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS blobs (
	doc_uid    TEXT NOT NULL REFERENCES documents(uid) ON DELETE CASCADE,
	uid        TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	media_type TEXT NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (doc_uid, uid)
);
CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
`

// SQLiteStore keeps documents in a SQLite database. The document body is
// stored without its blobs; blob payloads live in their own table so a
// listing never reads pixel data.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for updated_at.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens or creates the database at path. ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, d *document.Document) error {
	if err := checkUID("save", d.UID); err != nil {
		return err
	}
	data, err := document.Marshal(d)
	if err != nil {
		return err
	}
	body, err := sjson.DeleteBytes(data, "blobs")
	if err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (uid, title, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET title = excluded.title, body = excluded.body, updated_at = excluded.updated_at`,
		d.UID, d.Meta.Title, body, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE doc_uid = ?`, d.UID); err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	for i, b := range d.Blobs() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO blobs (doc_uid, uid, seq, media_type, data) VALUES (?, ?, ?, ?, ?)`,
			d.UID, b.UID, i, b.MediaType, b.Data)
		if err != nil {
			return fmt.Errorf("save %s: blob %s: %w", d.UID, b.UID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	s.logger.Debug("document saved", "uid", d.UID, "bytes", len(body))
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, uid string) (*document.Document, error) {
	if err := checkUID("load", uid); err != nil {
		return nil, err
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE uid = ?`, uid).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, derrors.NewElementError("load", uid, derrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, media_type, data FROM blobs WHERE doc_uid = ? ORDER BY seq`, uid)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}
	defer rows.Close()

	blobs := []*document.Blob{}
	for rows.Next() {
		b := &document.Blob{}
		if err := rows.Scan(&b.UID, &b.MediaType, &b.Data); err != nil {
			return nil, fmt.Errorf("load %s: %w", uid, err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}

	raw, err := json.Marshal(blobs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}
	data, err := sjson.SetRawBytes(body, "blobs", raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}
	return document.Unmarshal(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.uid, d.title, d.updated_at,
		       length(d.body) + COALESCE((SELECT SUM(length(b.data)) FROM blobs b WHERE b.doc_uid = d.uid), 0)
		FROM documents d
		ORDER BY d.updated_at DESC, d.uid`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var updated int64
		if err := rows.Scan(&info.UID, &info.Title, &updated, &info.Size); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		info.Updated = time.Unix(0, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete implements Store. Blobs go with the document.
func (s *SQLiteStore) Delete(ctx context.Context, uid string) error {
	if err := checkUID("delete", uid); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", uid, err)
	}
	if n == 0 {
		return derrors.NewElementError("delete", uid, derrors.ErrNotFound)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

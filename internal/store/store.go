// Package store persists documents.
//
// Two backends implement Store: FileStore keeps one JSON file per document
// in a directory, SQLiteStore keeps documents and their blobs in a SQLite
// database. Open picks one from the path.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

// Info describes a stored document without loading it.
type Info struct {
	UID     string
	Title   string
	Updated time.Time
	Size    int64
}

// Store is a document repository.
type Store interface {
	// Save writes d, replacing any stored document with the same uid.
	Save(ctx context.Context, d *document.Document) error
	// Load reads the document with uid.
	Load(ctx context.Context, uid string) (*document.Document, error)
	// List returns the stored documents, most recently updated first.
	List(ctx context.Context) ([]Info, error)
	// Delete removes the document with uid.
	Delete(ctx context.Context, uid string) error
	// Close releases the store.
	Close() error
}

// Open returns a SQLiteStore for paths ending in .db, .sqlite or .sqlite3
// and a FileStore rooted at path otherwise.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return NewFileStore(path)
	}
}

func checkUID(op, uid string) error {
	if uid == "" || strings.ContainsAny(uid, `/\`) || uid == "." || uid == ".." {
		return derrors.NewElementError(op, uid, fmt.Errorf("invalid document uid: %w", derrors.ErrInvalidOption))
	}
	return nil
}

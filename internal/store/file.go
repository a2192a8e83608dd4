package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

const fileExt = ".json"

// FileStore keeps each document as <uid>.json in a directory. Writes go to
// a temporary file that is renamed over the target, so a reader never sees
// a partial document.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(uid string) string {
	return filepath.Join(s.dir, uid+fileExt)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, d *document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkUID("save", d.UID); err != nil {
		return err
	}
	data, err := document.Marshal(d)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+d.UID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	if err := os.Rename(tmpName, s.path(d.UID)); err != nil {
		cleanup()
		return fmt.Errorf("save %s: %w", d.UID, err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, uid string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkUID("load", uid); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(uid))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, derrors.NewElementError("load", uid, derrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", uid, err)
	}
	return document.Unmarshal(data)
}

// List implements Store. Titles are read without decoding whole documents.
func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		res := gjson.GetManyBytes(data, "uid", "meta.title")
		out = append(out, Info{
			UID:     res[0].String(),
			Title:   res[1].String(),
			Updated: fi.ModTime(),
			Size:    fi.Size(),
		})
	}
	sortInfos(out)
	return out, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkUID("delete", uid); err != nil {
		return err
	}
	if err := os.Remove(s.path(uid)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return derrors.NewElementError("delete", uid, derrors.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", uid, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func sortInfos(infos []Info) {
	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.Updated.Compare(a.Updated); c != 0 {
			return c
		}
		return strings.Compare(a.UID, b.UID)
	})
}

var _ Store = (*FileStore)(nil)

// Package loader reads configuration sources into nested maps.
//
// File loaders return nil, nil when the file does not exist so that a
// missing optional config file is not an error. Maps from several sources
// are combined with DeepMerge, later sources winning.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Loader produces one configuration layer.
type Loader interface {
	// Load returns the layer as a nested map, or nil, nil when the source
	// does not exist.
	Load() (map[string]any, error)
}

// FileSystem is the file access the loaders need. Tests substitute an
// in-memory implementation.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS is the operating system's file system.
type OSFS struct{}

func (OSFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

// DefaultFS returns OSFS.
func DefaultFS() FileSystem {
	return OSFS{}
}

// FileLoader decodes one config file.
type FileLoader struct {
	FS     FileSystem
	Path   string
	Format Format
}

// ForPath returns a FileLoader for path, choosing the format from the
// extension.
func ForPath(fsys FileSystem, path string) (*FileLoader, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return &FileLoader{FS: fsys, Path: path, Format: f}, nil
}

// Load implements Loader.
func (l *FileLoader) Load() (map[string]any, error) {
	data, err := l.FS.ReadFile(l.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", l.Path, err)
	}
	return l.Format.Parse(l.Path, data)
}

// DeepMerge copies src into dst and returns dst. Nested maps present on
// both sides merge key by key; any other src value replaces dst's.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if cur, curOK := dst[k].(map[string]any); ok && curOK {
			dst[k] = DeepMerge(cur, sub)
			continue
		}
		dst[k] = v
	}
	return dst
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

func sampleDocument(t *testing.T, title string) *document.Document {
	t.Helper()
	d := document.New(title, 16, 16)
	blob := d.AddBlob(document.MediaTypeRGBA, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	if _, err := d.AddLayerNode(document.NewRaster("pixels", 2, 2, blob), nil, document.AppendIndex); err != nil {
		t.Fatal(err)
	}
	g := document.NewGroup("group")
	if _, err := d.AddLayerNode(g, nil, document.AppendIndex); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddLayerNode(document.NewText("label", "hi", 1, 2), document.Path{g.UID}, document.AppendIndex); err != nil {
		t.Fatal(err)
	}
	return d
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "docs"))
	if err != nil {
		t.Fatal(err)
	}

	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(1_700_000_000+tick, 0)
	}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	mem, err := OpenSQLite(":memory:", WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	stores := map[string]Store{"file": fs, "sqlite": db, "memory": mem}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			d := sampleDocument(t, "round trip")
			if err := s.Save(ctx, d); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := s.Load(ctx, d.UID)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !document.Equal(d, got) {
				t.Error("loaded document differs from saved")
			}

			// Overwrite in place.
			d.Meta.Title = "renamed"
			if err := s.Save(ctx, d); err != nil {
				t.Fatalf("second Save failed: %v", err)
			}
			got, err = s.Load(ctx, d.UID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Meta.Title != "renamed" {
				t.Errorf("Title = %q, want renamed", got.Meta.Title)
			}
			if len(got.Blobs()) != 1 {
				t.Errorf("blobs = %d, want 1", len(got.Blobs()))
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleDocument(t, "first")
			b := sampleDocument(t, "second")
			for _, d := range []*document.Document{a, b} {
				if err := s.Save(ctx, d); err != nil {
					t.Fatal(err)
				}
			}

			infos, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("List() = %d entries, want 2", len(infos))
			}
			titles := map[string]string{}
			for _, info := range infos {
				titles[info.UID] = info.Title
				if info.Size <= 0 {
					t.Errorf("%s size = %d", info.UID, info.Size)
				}
			}
			if titles[a.UID] != "first" || titles[b.UID] != "second" {
				t.Errorf("titles = %v", titles)
			}

			if err := s.Delete(ctx, a.UID); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := s.Load(ctx, a.UID); !derrors.IsNotFound(err) {
				t.Errorf("Load after Delete = %v, want not found", err)
			}
			if err := s.Delete(ctx, a.UID); !derrors.IsNotFound(err) {
				t.Errorf("second Delete = %v, want not found", err)
			}
			infos, _ = s.List(ctx)
			if len(infos) != 1 || infos[0].UID != b.UID {
				t.Errorf("List() after delete = %+v", infos)
			}
		})
	}
}

func TestRejectsBadUID(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, uid := range []string{"", "../escape", `a\b`, ".."} {
				if _, err := s.Load(ctx, uid); !derrors.IsInvalidOption(err) {
					t.Errorf("Load(%q) = %v, want invalid option", uid, err)
				}
			}
		})
	}
}

func TestSQLiteListOrder(t *testing.T) {
	ctx := context.Background()
	var tick int64
	s, err := OpenSQLite(":memory:", WithClock(func() time.Time {
		tick++
		return time.Unix(tick, 0)
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	older := sampleDocument(t, "older")
	newer := sampleDocument(t, "newer")
	_ = s.Save(ctx, older)
	_ = s.Save(ctx, newer)

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].UID != newer.UID {
		t.Errorf("List() = %+v, want newest first", infos)
	}
}

func TestOpenPicksBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		path   string
		sqlite bool
	}{
		{filepath.Join(dir, "docs"), false},
		{filepath.Join(dir, "docs.db"), true},
		{filepath.Join(dir, "docs.sqlite"), true},
	}
	for _, tt := range tests {
		s, err := Open(tt.path)
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", tt.path, err)
		}
		_, isSQLite := s.(*SQLiteStore)
		if isSQLite != tt.sqlite {
			t.Errorf("Open(%s) sqlite = %v, want %v", tt.path, isSQLite, tt.sqlite)
		}
		s.Close()
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d := sampleDocument(t, "tidy")
	if err := s.Save(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Dir(), ".*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left: %v", matches)
	}
}

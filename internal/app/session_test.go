package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/easel/internal/config"
	"github.com/dshills/easel/internal/document"
	"github.com/dshills/easel/internal/engine/history"
	"github.com/dshills/easel/internal/event"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Render.Width = 16
	cfg.Render.Height = 16
	cfg.Store.Path = filepath.Join(t.TempDir(), "docs.db")
	return cfg
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Config == nil {
		opts.Config = testConfig(t)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func square() *document.Vector {
	v := document.NewVector("square", []document.Point{{X: 2, Y: 2}, {X: 12, Y: 2}, {X: 12, Y: 12}, {X: 2, Y: 12}}, true)
	v.Fill = "#336699"
	return v
}

func TestNewBlankDocument(t *testing.T) {
	s := newSession(t, Options{})
	doc := s.Document()
	if doc == nil || doc.Len() != 0 {
		t.Fatalf("Document() = %v, want empty document", doc)
	}
	if doc.Meta.ArtboardWidth != 16 || doc.Meta.ArtboardHeight != 16 {
		t.Errorf("artboard = %dx%d, want 16x16", doc.Meta.ArtboardWidth, doc.Meta.ArtboardHeight)
	}
	frame, err := s.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if frame.Width() != 16 || frame.Height() != 16 {
		t.Errorf("frame = %dx%d", frame.Width(), frame.Height())
	}
	if s.Store() != nil {
		t.Error("store should not be opened before it is needed")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Capacity = 0
	_, err := New(context.Background(), Options{Config: cfg, Logger: slog.New(slog.DiscardHandler)})
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "config" {
		t.Fatalf("New = %v, want config InitError", err)
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("error should wrap ErrInvalidConfig: %v", err)
	}
}

func TestCommitUndoRedo(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	v := square()

	if _, err := s.Commit(ctx, history.NewAddLayerCommand(v, nil, document.AppendIndex)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !s.Document().HasElement(v.UID) {
		t.Fatal("element not added")
	}
	if _, err := s.Commit(ctx, history.NewRemoveLayerCommand(document.Path{"missing"})); err == nil {
		t.Error("expected a failed commit")
	}

	if _, err := s.Undo(ctx); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if s.Document().HasElement(v.UID) {
		t.Error("element still present after undo")
	}
	if _, err := s.Redo(ctx); err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if !s.Document().HasElement(v.UID) {
		t.Error("element missing after redo")
	}

	m := s.Metrics().Snapshot()
	if m.Commits != 1 || m.FailedCommits != 1 {
		t.Errorf("metrics = %+v, want 1 commit and 1 failure", m)
	}
}

func TestSaveAndReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s := newSession(t, Options{Config: cfg})

	if _, err := s.Commit(ctx, history.NewAddLayerCommand(square(), nil, document.AppendIndex)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved := s.Document()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := newSession(t, Options{Config: cfg, DocumentUID: saved.UID})
	if !document.Equal(saved, reopened.Document()) {
		t.Error("reopened document differs from saved one")
	}
}

func TestSaveWithoutStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = ""
	s := newSession(t, Options{Config: cfg})
	if err := s.Save(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Errorf("Save = %v, want ErrNoStore", err)
	}
}

func TestOpenMissingDocument(t *testing.T) {
	_, err := New(context.Background(), Options{
		Config:      testConfig(t),
		Logger:      slog.New(slog.DiscardHandler),
		DocumentUID: "nope",
	})
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "document" {
		t.Errorf("New = %v, want document InitError", err)
	}
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})

	reloaded := 0
	_, err := s.Bus().Subscribe(event.TopicConfigReloaded, event.AsHandler(
		func(context.Context, event.Event[event.ConfigReloaded]) error {
			reloaded++
			return nil
		}))
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	cfg.History.MaxEntries = 2
	cfg.Cache.Capacity = 4
	cfg.Queue.MaxPreviewQueue = 1
	if err := s.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("ApplyConfig failed: %v", err)
	}
	if s.History().MaxEntries() != 2 {
		t.Errorf("MaxEntries = %d, want 2", s.History().MaxEntries())
	}
	if got := s.Orchestrator().Cache().Stats().Capacity; got != 4 {
		t.Errorf("cache capacity = %d, want 4", got)
	}
	if s.Config() != cfg {
		t.Error("Config() should return the applied config")
	}
	if reloaded != 1 {
		t.Errorf("reload events = %d, want 1", reloaded)
	}

	bad := testConfig(t)
	bad.History.MaxEntries = -1
	if err := s.ApplyConfig(ctx, bad); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("ApplyConfig(bad) = %v", err)
	}
	if s.History().MaxEntries() != 2 {
		t.Error("rejected config should not be applied")
	}
}

func TestBitmapCompactionRunsOnLane(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})

	doc := s.Document()
	blob := doc.AddBlob(document.MediaTypeRGBA, bytes.Repeat([]byte{0x80}, 2*2*4))
	raster := document.NewRaster("paint", 2, 2, blob)
	if _, err := s.Commit(ctx, history.NewAddLayerCommand(raster, nil, document.AppendIndex)); err != nil {
		t.Fatal(err)
	}

	cmd := s.BitmapCommand(raster.UID, func(prev []byte) ([]byte, error) {
		return make([]byte, len(prev)), nil
	})
	if _, err := s.Commit(ctx, cmd); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Queue().Stats().Ran < 1 {
		if time.Now().After(deadline) {
			t.Fatal("compaction never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.Undo(ctx); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	b, _ := doc.Blob(blob)
	if !bytes.Equal(b.Data, bytes.Repeat([]byte{0x80}, 2*2*4)) {
		t.Error("undo after compaction did not restore pixels")
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{Config: testConfig(t), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := s.Commit(ctx, history.NewAddLayerCommand(square(), nil, document.AppendIndex)); !errors.Is(err, ErrClosed) {
		t.Errorf("Commit after Close = %v, want ErrClosed", err)
	}
	if err := s.Save(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
}

func TestWatchAppliesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "easel.toml")
	if err := writeConfig(path, "[history]\nmaxEntries = 10\n"); err != nil {
		t.Fatal(err)
	}
	s := newSession(t, Options{ConfigPath: path, Watch: true})

	if err := writeConfig(path, "[history]\nmaxEntries = 3\n"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.History().MaxEntries() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("MaxEntries = %d, reload not applied", s.History().MaxEntries())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.HasSuffix(s.Config().Store.Path, "documents") {
		t.Errorf("reloaded config should start from defaults, store = %q", s.Config().Store.Path)
	}
}

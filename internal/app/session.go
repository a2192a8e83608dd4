// Package app wires the document core into an editing session.
//
// A Session owns exactly one Document together with its history, the event
// bus, the lane queue, the render orchestrator and its drawing context.
// Components are built in dependency order by bootstrap and torn down in
// reverse order by Close.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/dshills/easel/internal/codec"
	"github.com/dshills/easel/internal/config"
	"github.com/dshills/easel/internal/document"
	"github.com/dshills/easel/internal/engine/history"
	derrors "github.com/dshills/easel/internal/errors"
	"github.com/dshills/easel/internal/event"
	"github.com/dshills/easel/internal/lane"
	"github.com/dshills/easel/internal/render"
	"github.com/dshills/easel/internal/store"
)

// Session is the central coordinator for one open document.
type Session struct {
	mu sync.RWMutex

	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	bus      *event.Bus
	queue    *lane.Queue
	codec    *codec.Codec
	doc      *document.Document
	history  *history.History
	dc       *gg.Context
	orch     *render.Orchestrator
	store    store.Store
	ownStore bool
	watcher  *config.Watcher
	metrics  *Metrics

	closed bool
	opts   Options
}

// Options configures a session.
type Options struct {
	// Config is the starting configuration. Defaults to config.Default().
	Config *config.Config

	// ConfigPath, when set together with Watch, is reloaded on change.
	ConfigPath string

	// Watch enables live config reload from ConfigPath.
	Watch bool

	// Logger overrides the logger built from Config.Logging.
	Logger *slog.Logger

	// Document is the document to edit. When nil, DocumentUID is loaded
	// from the store, or a blank document is created.
	Document *document.Document

	// DocumentUID names a stored document to open.
	DocumentUID string

	// Store overrides the store opened from Config.Store.Path. A store
	// passed here is not closed by the session.
	Store store.Store

	// Backend overrides the element rasterizer.
	Backend render.Backend
}

// New creates a session.
func New(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		opts:    opts,
		metrics: NewMetrics(),
	}
	if err := s.bootstrap(ctx); err != nil {
		s.teardown(context.Background())
		return nil, err
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Session) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Document returns the session's document. Mutate it only through History
// or the orchestrator.
func (s *Session) Document() *document.Document {
	return s.doc
}

// History returns the undo/redo stack.
func (s *Session) History() *history.History {
	return s.history
}

// Orchestrator returns the render orchestrator.
func (s *Session) Orchestrator() *render.Orchestrator {
	return s.orch
}

// Bus returns the event bus.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Queue returns the lane queue.
func (s *Session) Queue() *lane.Queue {
	return s.queue
}

// Store returns the document store, or nil before the first Save.
func (s *Session) Store() store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Metrics returns the commit timing tracker.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// BitmapCommand builds a bitmap edit that compacts its snapshots with the
// session codec when compression is enabled.
func (s *Session) BitmapCommand(uid string, update history.BitmapUpdater) *history.UpdateBitmapCommand {
	return history.NewUpdateBitmapCommand(uid, update, s.codec)
}

// Commit runs cmd through the commit path and records its latency.
func (s *Session) Commit(ctx context.Context, cmd history.Command) (*gg.Pixmap, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	pm, err := s.orch.CommitStroke(ctx, cmd)
	s.metrics.RecordCommit(time.Since(start), err)
	if err != nil && !derrors.Recoverable(err) {
		s.logger.Error("commit broke a document invariant", "command", cmd.Description(), "error", err)
	}
	return pm, err
}

// Undo reverts the last command and re-renders.
func (s *Session) Undo(ctx context.Context) (*gg.Pixmap, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.orch.Undo(ctx)
}

// Redo reapplies the last undone command and re-renders.
func (s *Session) Redo(ctx context.Context) (*gg.Pixmap, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.orch.Redo(ctx)
}

// Render draws the whole document.
func (s *Session) Render(ctx context.Context) (*gg.Pixmap, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.orch.FullRender(ctx)
}

// Save writes the document to the store. The commit lock is held so no
// command runs while the document is encoded.
func (s *Session) Save(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	err := s.openStore()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.orch.WithCommitLock(ctx, "save", func(context.Context) error {
		return s.Store().Save(ctx, s.doc)
	})
}

// ApplyConfig installs cfg and pushes the live-tunable values into the
// running components: history depth, preview queue bound, cache capacity
// and log level.
func (s *Session) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.history.SetMaxEntries(cfg.History.MaxEntries)
	s.orch.SetMaxPreviewQueue(cfg.Queue.MaxPreviewQueue)
	s.orch.Cache().Resize(cfg.Cache.Capacity)
	if s.level != nil {
		s.level.Set(ParseLogLevel(cfg.Logging.Level))
	}
	s.logger.Info("config applied",
		"history.maxEntries", cfg.History.MaxEntries,
		"queue.maxPreviewQueue", cfg.Queue.MaxPreviewQueue,
		"cache.capacity", cfg.Cache.Capacity)

	e := event.NewEvent(event.TopicConfigReloaded, event.ConfigReloaded{Path: s.opts.ConfigPath}, "app")
	if err := s.bus.Publish(ctx, e); err != nil {
		s.logger.Warn("config subscriber failed", "error", err)
	}
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

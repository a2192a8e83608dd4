package app

import (
	"context"
	"log/slog"

	"github.com/gogpu/gg"

	"github.com/dshills/easel/internal/codec"
	"github.com/dshills/easel/internal/config"
	"github.com/dshills/easel/internal/document"
	"github.com/dshills/easel/internal/engine/history"
	"github.com/dshills/easel/internal/event"
	"github.com/dshills/easel/internal/lane"
	"github.com/dshills/easel/internal/render"
	"github.com/dshills/easel/internal/render/cache"
	"github.com/dshills/easel/internal/store"
)

// bootstrap initializes all components in dependency order.
func (s *Session) bootstrap(ctx context.Context) error {
	var err error

	// 1. Config and logging
	s.cfg = s.opts.Config
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if err := s.cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if s.opts.Logger != nil {
		s.logger = s.opts.Logger
	} else {
		s.logger, s.level = NewLogger(s.cfg.Logging, nil)
	}
	forwardLogger(s.logger)

	// 2. Event bus and lane queue
	s.bus = event.NewBus(event.WithLogger(s.logger.With("component", "event")))
	s.queue = lane.New(lane.WithLogger(s.logger.With("component", "lane")))

	// 3. Snapshot codec
	if s.cfg.Snapshot.Compress {
		if s.codec, err = codec.New(s.cfg.Snapshot.Level); err != nil {
			return &InitError{Component: "codec", Err: err}
		}
	}

	// 4. Store
	s.store = s.opts.Store
	if s.opts.DocumentUID != "" {
		if err := s.openStore(); err != nil {
			return &InitError{Component: "store", Err: err}
		}
	}

	// 5. Document
	switch {
	case s.opts.Document != nil:
		s.doc = s.opts.Document
	case s.opts.DocumentUID != "":
		if s.store == nil {
			return &InitError{Component: "document", Err: ErrNoStore}
		}
		if s.doc, err = s.store.Load(ctx, s.opts.DocumentUID); err != nil {
			return &InitError{Component: "document", Err: err}
		}
	default:
		s.doc = document.New("untitled", s.cfg.Render.Width, s.cfg.Render.Height)
	}
	if err := s.doc.Validate(); err != nil {
		return &InitError{Component: "document", Err: err}
	}

	// 6. History
	s.history = history.New(s.doc,
		history.WithMaxEntries(s.cfg.History.MaxEntries),
		history.WithPublisher(s.bus),
		history.WithCompactScheduler(s.scheduleCompaction),
		history.WithLogger(s.logger.With("component", "history")),
	)

	// 7. Drawing context and orchestrator
	w, h := s.doc.Meta.ArtboardWidth, s.doc.Meta.ArtboardHeight
	if w <= 0 || h <= 0 {
		w, h = s.cfg.Render.Width, s.cfg.Render.Height
	}
	s.dc = gg.NewContext(w, h)

	renderOpts := []render.Option{
		render.WithLogger(s.logger.With("component", "render")),
		render.WithCache(cache.New(cache.Config{Capacity: s.cfg.Cache.Capacity})),
		render.WithPreviewLane(s.cfg.Queue.PreviewLane, s.cfg.Queue.MaxPreviewQueue),
		render.WithBackground(s.cfg.Render.Background),
	}
	if s.opts.Backend != nil {
		renderOpts = append(renderOpts, render.WithBackend(s.opts.Backend))
	}
	if s.orch, err = render.New(s.history, s.dc, s.bus, s.queue, renderOpts...); err != nil {
		return &InitError{Component: "render", Err: err}
	}

	// 8. Live config reload
	if s.opts.Watch && s.opts.ConfigPath != "" {
		s.watcher, err = config.NewWatcher(s.opts.ConfigPath, func(cfg *config.Config) {
			if err := s.ApplyConfig(context.Background(), cfg); err != nil {
				s.logger.Warn("config not applied", "error", err)
			}
		}, config.WithLogger(s.logger.With("component", "config")))
		if err != nil {
			return &InitError{Component: "config watcher", Err: err}
		}
	}

	s.logger.Info("session started",
		slog.String("document", s.doc.UID),
		slog.Int("elements", s.doc.Len()),
		slog.Int("width", w),
		slog.Int("height", h))
	return nil
}

// scheduleCompaction queues snapshot compaction on the commit-class lane
// so it is never dropped behind newer work.
func (s *Session) scheduleCompaction(c history.Compactor) {
	if _, err := s.queue.PushCommit(s.Config().Queue.CompactLane, c.Compact); err != nil {
		s.logger.Warn("compaction not scheduled", "error", err)
	}
}

// openStore opens the configured store unless one is already set.
func (s *Session) openStore() error {
	if s.store != nil {
		return nil
	}
	if s.cfg.Store.Path == "" {
		return ErrNoStore
	}
	st, err := store.Open(s.cfg.Store.Path)
	if err != nil {
		return err
	}
	s.store = st
	s.ownStore = true
	return nil
}

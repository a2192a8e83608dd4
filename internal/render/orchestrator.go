package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gg"

	"github.com/dshills/easel/internal/document"
	"github.com/dshills/easel/internal/engine/history"
	derrors "github.com/dshills/easel/internal/errors"
	"github.com/dshills/easel/internal/event"
	"github.com/dshills/easel/internal/lane"
	"github.com/dshills/easel/internal/lock"
	"github.com/dshills/easel/internal/render/cache"
)

// Default preview lane settings.
const (
	DefaultPreviewLane     = "preview"
	DefaultMaxPreviewQueue = 2
)

// PreviewFunc draws transient content, such as an in-progress stroke, on
// top of the composed document. It runs while the commit lock is held.
type PreviewFunc func(dc *gg.Context) error

// Stats holds orchestrator counters.
type Stats struct {
	Renders  uint64
	Aborted  uint64
	Previews uint64
	Commits  uint64
	Cache    cache.Stats
}

// Orchestrator serializes renders and commits on one drawing context.
type Orchestrator struct {
	history *history.History
	commit  *lock.ResourceLock[*gg.Context]
	queue   *lane.Queue
	cache   *cache.Cache
	backend Backend
	bus     *event.Bus
	sub     *event.Subscription
	logger  *slog.Logger

	previewLane string
	maxPreview  atomic.Int64
	background  string

	mu       sync.Mutex
	cancel   context.CancelFunc // cancels the full render in flight
	renderID uint64
	frame    *gg.Pixmap
	disposed bool

	renders  atomic.Uint64
	aborted  atomic.Uint64
	previews atomic.Uint64
	commits  atomic.Uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBackend replaces the gg software backend.
func WithBackend(b Backend) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithCache sets the element bitmap cache.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithPreviewLane sets the preview lane name and its pending limit.
func WithPreviewLane(name string, maxQueue int) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.previewLane = name
		}
		if maxQueue > 0 {
			o.maxPreview.Store(int64(maxQueue))
		}
	}
}

// WithBackground sets the hex color frames are cleared to. The default is
// transparent.
func WithBackground(hex string) Option {
	return func(o *Orchestrator) {
		o.background = hex
	}
}

// New creates an orchestrator drawing into dc. It subscribes to history
// affect events on bus to invalidate cached element bitmaps; h must publish
// to the same bus.
func New(h *history.History, dc *gg.Context, bus *event.Bus, q *lane.Queue, opts ...Option) (*Orchestrator, error) {
	if h == nil || dc == nil || bus == nil || q == nil {
		return nil, fmt.Errorf("new orchestrator: missing collaborator: %w", derrors.ErrInvalidOption)
	}
	o := &Orchestrator{
		history:     h,
		queue:       q,
		bus:         bus,
		backend:     NewGGBackend(),
		logger:      slog.New(slog.DiscardHandler),
		previewLane: DefaultPreviewLane,
	}
	o.maxPreview.Store(DefaultMaxPreviewQueue)
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New(cache.DefaultConfig())
	}
	o.commit = lock.New(dc, lock.WithLogger(o.logger))

	sub, err := bus.Subscribe(event.TopicHistoryAffect, event.AsHandler(o.onAffect))
	if err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}
	o.sub = sub
	return o, nil
}

func (o *Orchestrator) onAffect(ctx context.Context, e event.Event[event.HistoryAffect]) error {
	n := o.cache.Invalidate(e.Payload.ElementUIDs...)
	o.logger.Debug("cache invalidated",
		"transition", e.Payload.Transition, "elements", len(e.Payload.ElementUIDs), "removed", n)
	return nil
}

// Cache returns the element bitmap cache.
func (o *Orchestrator) Cache() *cache.Cache {
	return o.cache
}

// History returns the history edits are committed through.
func (o *Orchestrator) History() *history.History {
	return o.history
}

// Frame returns the last completed frame, or nil before the first render.
func (o *Orchestrator) Frame() *gg.Pixmap {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frame
}

// SetMaxPreviewQueue changes the preview lane's pending limit for
// subsequent requests.
func (o *Orchestrator) SetMaxPreviewQueue(n int) {
	if n > 0 {
		o.maxPreview.Store(int64(n))
	}
}

// FullRender composes the whole document into the drawing context and
// returns a copy of the frame. It cancels the full render already in
// flight, if any. A cancelled render returns an error wrapping
// derrors.ErrAborted.
func (o *Orchestrator) FullRender(ctx context.Context) (*gg.Pixmap, error) {
	ctx, id, err := o.beginRender(ctx)
	if err != nil {
		return nil, err
	}
	defer o.endRender(id)

	dc, err := o.acquire(ctx, "full-render")
	if err != nil {
		o.aborted.Add(1)
		return nil, err
	}
	defer o.release(dc)

	return o.renderLocked(ctx, dc)
}

// beginRender cancels the previous full render and registers a new one.
func (o *Orchestrator) beginRender(ctx context.Context) (context.Context, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return nil, 0, fmt.Errorf("render: orchestrator disposed: %w", derrors.ErrInvalidOption)
	}
	if o.cancel != nil {
		o.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	o.renderID++
	o.cancel = cancel
	return ctx, o.renderID, nil
}

func (o *Orchestrator) endRender(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.renderID == id && o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// RequestPreview queues a preview render on the preview lane. Under load
// older pending previews are dropped and their handles resolve with
// derrors.ErrDropped. fn may be nil to render the document alone.
func (o *Orchestrator) RequestPreview(ctx context.Context, fn PreviewFunc) (*lane.Handle, error) {
	if o.isDisposed() {
		return nil, fmt.Errorf("preview: orchestrator disposed: %w", derrors.ErrInvalidOption)
	}
	return o.queue.Push(o.previewLane, func(laneCtx context.Context) error {
		if ctx.Err() != nil {
			o.aborted.Add(1)
			return fmt.Errorf("preview: %w", derrors.ErrAborted)
		}
		taskCtx, cancel := context.WithCancel(laneCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		dc, err := o.acquire(taskCtx, "preview")
		if err != nil {
			o.aborted.Add(1)
			return err
		}
		defer o.release(dc)

		if _, err := o.renderLocked(taskCtx, dc); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(dc); err != nil {
				return fmt.Errorf("preview: %w", err)
			}
		}
		o.previews.Add(1)
		return nil
	}, int(o.maxPreview.Load()))
}

// CommitStroke holds the commit lock across history.Do and the render of
// the result, so the edit and its frame are committed together.
func (o *Orchestrator) CommitStroke(ctx context.Context, cmd history.Command) (*gg.Pixmap, error) {
	return o.commitTransition(ctx, "commit-stroke", func(ctx context.Context) error {
		return o.history.Do(ctx, cmd)
	})
}

// Undo undoes the last edit under the commit lock and renders the result.
func (o *Orchestrator) Undo(ctx context.Context) (*gg.Pixmap, error) {
	return o.commitTransition(ctx, "undo", o.history.Undo)
}

// Redo redoes the last undone edit under the commit lock and renders the
// result.
func (o *Orchestrator) Redo(ctx context.Context) (*gg.Pixmap, error) {
	return o.commitTransition(ctx, "redo", o.history.Redo)
}

func (o *Orchestrator) commitTransition(ctx context.Context, owner string, apply func(context.Context) error) (*gg.Pixmap, error) {
	if o.isDisposed() {
		return nil, fmt.Errorf("%s: orchestrator disposed: %w", owner, derrors.ErrInvalidOption)
	}
	dc, err := o.acquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer o.release(dc)

	if err := apply(ctx); err != nil {
		return nil, err
	}
	o.commits.Add(1)

	// The edit is committed; its frame must not be abandoned because the
	// caller went away.
	return o.renderLocked(context.WithoutCancel(ctx), dc)
}

// WithCommitLock runs fn while holding the commit lock without rendering.
// Use it for work that must not interleave with edits, such as saving.
func (o *Orchestrator) WithCommitLock(ctx context.Context, owner string, fn func(context.Context) error) error {
	if o.isDisposed() {
		return fmt.Errorf("%s: orchestrator disposed: %w", owner, derrors.ErrInvalidOption)
	}
	dc, err := o.acquire(ctx, owner)
	if err != nil {
		return err
	}
	defer o.release(dc)
	return fn(ctx)
}

// renderLocked composes the document into dc. The caller holds the commit
// lock.
func (o *Orchestrator) renderLocked(ctx context.Context, dc *gg.Context) (*gg.Pixmap, error) {
	if o.background != "" {
		dc.ClearWithColor(gg.Hex(o.background))
	} else {
		dc.Clear()
	}

	doc := o.history.Document()
	if err := o.compose(ctx, dc, doc, doc.Root()); err != nil {
		if errors.Is(err, derrors.ErrAborted) {
			o.aborted.Add(1)
			o.logger.Debug("render cancelled")
		}
		return nil, err
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	frame := copyPixmap(dc.ResizeTarget())
	o.mu.Lock()
	o.frame = frame
	o.mu.Unlock()
	o.renders.Add(1)
	return frame, nil
}

// compose draws n's children in paint order. Groups become gg layers;
// leaves come from the cache or the backend.
func (o *Orchestrator) compose(ctx context.Context, dc *gg.Context, doc *document.Document, n *document.Node) error {
	for _, child := range n.Children {
		if ctx.Err() != nil {
			return fmt.Errorf("render: %w", derrors.ErrAborted)
		}
		el, err := doc.Element(child.ElementUID)
		if err != nil {
			return err
		}
		base := el.Common()
		if !base.Visible {
			continue
		}

		if document.IsContainer(el) {
			dc.PushLayer(blendMode(base.CompositeMode), base.Opacity)
			err := o.compose(ctx, dc, doc, child)
			dc.PopLayer()
			if err != nil {
				return err
			}
			continue
		}

		pm, err := o.cache.GetOrRender(base.UID, func() (*gg.Pixmap, error) {
			return o.backend.RenderElement(ctx, doc, el, dc.Width(), dc.Height())
		})
		if err != nil {
			return err
		}
		dc.DrawImageEx(gg.ImageBufFromImage(pm.ToImage()), gg.DrawImageOptions{
			Interpolation: gg.InterpNearest,
			Opacity:       base.Opacity,
			BlendMode:     blendMode(base.CompositeMode),
		})
	}
	return nil
}

// acquire takes the commit lock and fails if the orchestrator was disposed
// while the caller waited.
func (o *Orchestrator) acquire(ctx context.Context, owner string) (*gg.Context, error) {
	dc, err := o.commit.Acquire(ctx, owner)
	if err != nil {
		if o.isDisposed() {
			return nil, fmt.Errorf("%s: orchestrator disposed: %w", owner, derrors.ErrInvalidOption)
		}
		return nil, err
	}
	if o.isDisposed() {
		o.release(dc)
		return nil, fmt.Errorf("%s: orchestrator disposed: %w", owner, derrors.ErrInvalidOption)
	}
	return dc, nil
}

func (o *Orchestrator) release(dc *gg.Context) {
	if err := o.commit.Release(dc); err != nil {
		if o.commit.Seized() {
			o.logger.Debug("commit lock released after dispose", "error", err)
			return
		}
		o.logger.Error("commit lock release failed", "error", err)
	}
}

func (o *Orchestrator) isDisposed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disposed
}

// Dispose seizes the drawing context, cancels the render in flight and
// drops the cache. The orchestrator rejects all further work. Dispose
// returns the drawing context so the owner can close it.
func (o *Orchestrator) Dispose() *gg.Context {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()

	dc := o.commit.AcquireForce("dispose")
	if err := o.bus.Unsubscribe(o.sub); err != nil {
		o.logger.Warn("unsubscribe failed", "error", err)
	}
	o.cache.InvalidateAll()
	return dc
}

// Stats returns orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Renders:  o.renders.Load(),
		Aborted:  o.aborted.Load(),
		Previews: o.previews.Load(),
		Commits:  o.commits.Load(),
		Cache:    o.cache.Stats(),
	}
}

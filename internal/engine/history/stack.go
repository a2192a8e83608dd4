package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
	"github.com/dshills/easel/internal/event"
)

// DefaultMaxEntries bounds the undo stack when no limit is configured.
const DefaultMaxEntries = 1000

// undoEntry wraps a command with metadata.
type undoEntry struct {
	command   Command
	timestamp time.Time
}

// OperationInfo describes a history entry.
type OperationInfo struct {
	Description string
	Timestamp   time.Time
	ElementUIDs []string
}

// History manages the undo/redo stacks of one document.
//
// Transitions are ordered by call order. The stack lock is not held while a
// command runs; callers serialize document writers through the commit lock.
type History struct {
	mu sync.Mutex

	doc *document.Document

	undoStack []*undoEntry
	redoStack []*undoEntry

	// Grouping state
	grouping  bool
	groupName string
	groupCmds []Command

	maxEntries int
	publisher  event.Publisher
	compact    func(Compactor)
	logger     *slog.Logger
}

// Option configures a History.
type Option func(*History)

// WithMaxEntries bounds the undo stack; the oldest entries are dropped.
func WithMaxEntries(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.maxEntries = n
		}
	}
}

// WithPublisher sets where affect and layer-updated events go.
func WithPublisher(p event.Publisher) Option {
	return func(h *History) {
		h.publisher = p
	}
}

// WithCompactScheduler sets the function that schedules background
// compaction for commands implementing Compactor.
func WithCompactScheduler(fn func(Compactor)) Option {
	return func(h *History) {
		h.compact = fn
	}
}

// WithLogger sets the history logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates an empty history for doc.
func New(doc *document.Document, opts ...Option) *History {
	h := &History{
		doc:        doc,
		maxEntries: DefaultMaxEntries,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Document returns the document the history edits.
func (h *History) Document() *document.Document {
	return h.doc
}

// Do runs cmd, pushes it to the undo stack and clears the redo stack.
// While grouping, cmd joins the open group instead.
func (h *History) Do(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("do: nil command: %w", derrors.ErrInvalidOption)
	}
	if err := cmd.Do(ctx, h.doc); err != nil {
		return err
	}

	h.mu.Lock()
	if h.grouping {
		h.groupCmds = append(h.groupCmds, cmd)
	} else {
		h.pushLocked(cmd)
	}
	h.mu.Unlock()

	if c, ok := cmd.(Compactor); ok && h.compact != nil {
		h.compact(c)
	}
	h.emit(ctx, event.TransitionDo, cmd)
	return nil
}

// pushLocked records an executed command. The caller holds h.mu.
func (h *History) pushLocked(cmd Command) {
	h.undoStack = append(h.undoStack, &undoEntry{command: cmd, timestamp: time.Now()})
	h.redoStack = nil
	h.trimLocked()
}

// trimLocked drops the oldest undo entries beyond maxEntries.
func (h *History) trimLocked() {
	if excess := len(h.undoStack) - h.maxEntries; excess > 0 {
		clear(h.undoStack[:excess])
		h.undoStack = h.undoStack[excess:]
	}
}

// Undo reverses the most recent command. It is a no-op when there is
// nothing to undo. If the command fails, the stacks are left as they were.
func (h *History) Undo(ctx context.Context) error {
	return h.step(ctx, event.TransitionUndo)
}

// Redo re-applies the most recently undone command. It is a no-op when
// there is nothing to redo.
func (h *History) Redo(ctx context.Context) error {
	return h.step(ctx, event.TransitionRedo)
}

// step moves the top entry from one stack to the other, running the
// command in between without the stack lock.
func (h *History) step(ctx context.Context, tr event.Transition) error {
	from, to, apply := &h.undoStack, &h.redoStack, Command.Undo
	if tr == event.TransitionRedo {
		from, to, apply = &h.redoStack, &h.undoStack, Command.Redo
	}

	h.mu.Lock()
	if h.grouping {
		name := h.groupName
		h.mu.Unlock()
		return fmt.Errorf("%s: group %q is open: %w", tr, name, derrors.ErrInvalidOption)
	}
	n := len(*from)
	if n == 0 {
		h.mu.Unlock()
		return nil
	}
	entry := (*from)[n-1]
	*from = (*from)[:n-1]
	h.mu.Unlock()

	err := apply(entry.command, ctx, h.doc)

	h.mu.Lock()
	if err != nil {
		*from = append(*from, entry)
	} else {
		*to = append(*to, entry)
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("history step failed", "transition", tr, "command", entry.command.Description(), "error", err)
		return err
	}
	h.emit(ctx, tr, entry.command)
	return nil
}

// emit publishes the affect event and one layer-updated event per uid.
// Subscriber failures are logged; they never fail the transition.
func (h *History) emit(ctx context.Context, tr event.Transition, cmd Command) {
	uids := cmd.EffectedElementUIDs()
	h.logger.Debug("history transition", "transition", tr, "command", cmd.Description(), "elements", len(uids))
	if h.publisher == nil {
		return
	}

	affect := event.NewEvent(event.TopicHistoryAffect, event.HistoryAffect{
		ElementUIDs: uids,
		Transition:  tr,
		Description: cmd.Description(),
	}, "history")
	if err := h.publisher.Publish(ctx, affect); err != nil {
		h.logger.Warn("affect subscriber failed", "error", err)
	}
	for _, uid := range uids {
		e := event.NewEvent(event.TopicLayerUpdated, event.LayerUpdated{ElementUID: uid, Transition: tr}, "history")
		if err := h.publisher.Publish(ctx, e); err != nil {
			h.logger.Warn("layer subscriber failed", "element", uid, "error", err)
		}
	}
}

// CanUndo reports whether Undo would do anything.
func (h *History) CanUndo() bool { return h.UndoCount() > 0 }

// CanRedo reports whether Redo would do anything.
func (h *History) CanRedo() bool { return h.RedoCount() > 0 }

// UndoCount returns the depth of the undo stack.
func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack)
}

// RedoCount returns the depth of the redo stack.
func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack)
}

// BeginGroup starts collecting commands into one undo unit. Nested calls
// are ignored.
func (h *History) BeginGroup(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.grouping {
		return
	}
	h.grouping = true
	h.groupName = name
	h.groupCmds = nil
}

// EndGroup pushes the commands done since BeginGroup as one Group.
func (h *History) EndGroup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.grouping {
		return
	}
	h.grouping = false
	if len(h.groupCmds) > 0 {
		h.pushLocked(newExecutedGroup(h.groupName, h.doc, h.groupCmds))
	}
	h.groupCmds = nil
}

// CancelGroup undoes the commands done since BeginGroup, in reverse order,
// and discards them.
func (h *History) CancelGroup(ctx context.Context) error {
	h.mu.Lock()
	cmds := h.groupCmds
	h.grouping = false
	h.groupCmds = nil
	h.mu.Unlock()

	for i := len(cmds) - 1; i >= 0; i-- {
		if err := cmds[i].Undo(ctx, h.doc); err != nil {
			return fmt.Errorf("cancel group step %d: %w", i, err)
		}
		h.emit(ctx, event.TransitionUndo, cmds[i])
	}
	return nil
}

// IsGrouping returns true while a group is open.
func (h *History) IsGrouping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grouping
}

// Clear discards both stacks without running any command.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.undoStack = nil
	h.redoStack = nil
	h.grouping = false
	h.groupCmds = nil
}

// UndoInfo describes the undo stack, oldest first.
func (h *History) UndoInfo() []OperationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.undoStack)
}

// RedoInfo describes the redo stack, oldest first.
func (h *History) RedoInfo() []OperationInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return infos(h.redoStack)
}

func infos(entries []*undoEntry) []OperationInfo {
	out := make([]OperationInfo, len(entries))
	for i, e := range entries {
		out[i] = OperationInfo{
			Description: e.command.Description(),
			Timestamp:   e.timestamp,
			ElementUIDs: e.command.EffectedElementUIDs(),
		}
	}
	return out
}

// PeekUndo describes the next undo without performing it.
func (h *History) PeekUndo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undoStack) == 0 {
		return OperationInfo{}, false
	}
	return infos(h.undoStack[len(h.undoStack)-1:])[0], true
}

// PeekRedo describes the next redo without performing it.
func (h *History) PeekRedo() (OperationInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redoStack) == 0 {
		return OperationInfo{}, false
	}
	return infos(h.redoStack[len(h.redoStack)-1:])[0], true
}

// SetMaxEntries changes the undo limit, dropping the oldest entries if the
// stack is larger.
func (h *History) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.maxEntries = n
	h.trimLocked()
}

// MaxEntries returns the undo limit.
func (h *History) MaxEntries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxEntries
}

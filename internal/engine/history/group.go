package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

// Group runs several commands as one undo unit.
type Group struct {
	Name     string
	Commands []Command

	done executed
	doc  *document.Document
}

// NewGroup creates a group of commands that have not run yet.
func NewGroup(name string, commands ...Command) *Group {
	return &Group{Name: name, Commands: commands}
}

// newExecutedGroup wraps commands that have already been done.
func newExecutedGroup(name string, doc *document.Document, commands []Command) *Group {
	return &Group{Name: name, Commands: commands, done: true, doc: doc}
}

// Do runs the children in order. If one fails, the children already done
// are undone in reverse order before the error is returned.
func (g *Group) Do(ctx context.Context, doc *document.Document) error {
	if err := g.done.begin(ctx, "group"); err != nil {
		return err
	}
	for i, cmd := range g.Commands {
		if err := cmd.Do(ctx, doc); err != nil {
			var errs []error
			for j := i - 1; j >= 0; j-- {
				if uerr := g.Commands[j].Undo(ctx, doc); uerr != nil {
					errs = append(errs, uerr)
				}
			}
			err = fmt.Errorf("group %q step %d: %w", g.Name, i, err)
			if len(errs) > 0 {
				return errors.Join(append([]error{err}, errs...)...)
			}
			return err
		}
	}
	g.doc = doc
	g.done = true
	return nil
}

// Undo reverses the children in reverse order.
func (g *Group) Undo(ctx context.Context, doc *document.Document) error {
	if err := g.done.check("undo group"); err != nil {
		return err
	}
	for i := len(g.Commands) - 1; i >= 0; i-- {
		if err := g.Commands[i].Undo(ctx, doc); err != nil {
			return fmt.Errorf("undo group %q step %d: %w", g.Name, i, err)
		}
	}
	return nil
}

// Redo replays the children in order.
func (g *Group) Redo(ctx context.Context, doc *document.Document) error {
	if err := g.done.check("redo group"); err != nil {
		return err
	}
	for i, cmd := range g.Commands {
		if err := cmd.Redo(ctx, doc); err != nil {
			return fmt.Errorf("redo group %q step %d: %w", g.Name, i, err)
		}
	}
	return nil
}

// Append does cmd against the document the group was done on and adds it to
// the group. Appending to a group that has not been done is a usage error.
func (g *Group) Append(ctx context.Context, cmd Command) error {
	if !g.done || g.doc == nil {
		return fmt.Errorf("append to group %q before do: %w", g.Name, derrors.ErrInvalidOption)
	}
	if err := cmd.Do(ctx, g.doc); err != nil {
		return err
	}
	g.Commands = append(g.Commands, cmd)
	return nil
}

// Compact compacts every child that supports it.
func (g *Group) Compact(ctx context.Context) error {
	for _, cmd := range g.Commands {
		if c, ok := cmd.(Compactor); ok {
			if err := c.Compact(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// EffectedElementUIDs returns the union of the children's uids in order of
// first appearance.
func (g *Group) EffectedElementUIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, cmd := range g.Commands {
		for _, uid := range cmd.EffectedElementUIDs() {
			if !seen[uid] {
				seen[uid] = true
				out = append(out, uid)
			}
		}
	}
	return out
}

// Description returns the group's name.
func (g *Group) Description() string {
	if g.Name != "" {
		return g.Name
	}
	if len(g.Commands) == 1 {
		return g.Commands[0].Description()
	}
	return fmt.Sprintf("%d operations", len(g.Commands))
}

// IsEmpty returns true if the group has no commands.
func (g *Group) IsEmpty() bool {
	return len(g.Commands) == 0
}

// GroupScope groups the commands done until End using defer.
//
//	scope := h.GroupScope("Stroke")
//	defer scope.End()
type GroupScope struct {
	history *History
	active  bool
}

// GroupScope starts a new group scope.
func (h *History) GroupScope(name string) *GroupScope {
	h.BeginGroup(name)
	return &GroupScope{history: h, active: true}
}

// End ends the group scope. Only the first call has effect.
func (g *GroupScope) End() {
	if g.active {
		g.history.EndGroup()
		g.active = false
	}
}

// Cancel undoes the commands done in the scope and discards them.
func (g *GroupScope) Cancel(ctx context.Context) error {
	if !g.active {
		return nil
	}
	g.active = false
	return g.history.CancelGroup(ctx)
}

// Transaction runs fn within a grouped undo context. If fn returns an error
// the commands it did are undone and the error is returned.
func (h *History) Transaction(ctx context.Context, name string, fn func() error) error {
	h.BeginGroup(name)
	if err := fn(); err != nil {
		if cerr := h.CancelGroup(ctx); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	h.EndGroup()
	return nil
}

// Checkpoint is a point in history that can be returned to.
type Checkpoint struct {
	undoDepth int
}

// CreateCheckpoint records the current undo depth.
func (h *History) CreateCheckpoint() Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Checkpoint{undoDepth: len(h.undoStack)}
}

// UndoToCheckpoint undoes everything done since cp.
func (h *History) UndoToCheckpoint(ctx context.Context, cp Checkpoint) error {
	for h.UndoCount() > cp.undoDepth {
		if err := h.Undo(ctx); err != nil {
			return err
		}
	}
	return nil
}

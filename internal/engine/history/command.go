package history

import (
	"context"
	"fmt"
	"slices"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

// Command is a reversible document mutation.
type Command interface {
	// Do performs the mutation for the first time and records what Undo and
	// Redo need. A failing Do leaves the document unchanged.
	Do(ctx context.Context, doc *document.Document) error

	// Undo restores the state from before Do.
	Undo(ctx context.Context, doc *document.Document) error

	// Redo reproduces the state after Do from the recorded data.
	Redo(ctx context.Context, doc *document.Document) error

	// EffectedElementUIDs returns the uids whose rendering may have changed.
	EffectedElementUIDs() []string

	// Description returns a human-readable description of the command.
	Description() string
}

// Compactor is implemented by commands holding data that can be compressed
// after Do without affecting forward progress.
type Compactor interface {
	Compact(ctx context.Context) error
}

// executed tracks whether Do has run.
type executed bool

func (e executed) check(op string) error {
	if !e {
		return fmt.Errorf("%s before do: %w", op, derrors.ErrInvariant)
	}
	return nil
}

func (e *executed) begin(ctx context.Context, op string) error {
	if *e {
		return fmt.Errorf("%s: command already done: %w", op, derrors.ErrInvalidOption)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, derrors.ErrAborted)
	}
	return nil
}

// AddLayerCommand inserts an element as a new tree node.
type AddLayerCommand struct {
	Element    document.Element
	ParentPath document.Path
	Index      int

	done    executed
	index   int
	removed *document.Removed
}

// NewAddLayerCommand creates a command adding el under parent at index
// (document.AppendIndex for frontmost).
func NewAddLayerCommand(el document.Element, parent document.Path, index int) *AddLayerCommand {
	return &AddLayerCommand{Element: el, ParentPath: slices.Clone(parent), Index: index}
}

// Do inserts the element.
func (c *AddLayerCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "add layer"); err != nil {
		return err
	}
	i, err := doc.AddLayerNode(c.Element, c.ParentPath, c.Index)
	if err != nil {
		return fmt.Errorf("add layer: %w", err)
	}
	c.index = i
	c.done = true
	return nil
}

// Undo removes the inserted node and keeps it for Redo.
func (c *AddLayerCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo add layer"); err != nil {
		return err
	}
	removed, err := doc.RemoveNodeAt(c.path())
	if err != nil {
		return fmt.Errorf("undo add layer: %w", err)
	}
	c.removed = removed
	return nil
}

// Redo reinserts the stored node at the index Do used.
func (c *AddLayerCommand) Redo(ctx context.Context, doc *document.Document) error {
	if c.removed == nil {
		return fmt.Errorf("redo add layer: nothing removed: %w", derrors.ErrInvariant)
	}
	if _, err := doc.InsertSubtree(c.removed.Node, c.removed.Elements, c.ParentPath, c.index); err != nil {
		return fmt.Errorf("redo add layer: %w", err)
	}
	c.removed = nil
	return nil
}

// InsertedIndex returns the child index Do used.
func (c *AddLayerCommand) InsertedIndex() int {
	return c.index
}

func (c *AddLayerCommand) path() document.Path {
	return c.ParentPath.Child(c.Element.Common().UID)
}

// EffectedElementUIDs returns the added element's uid.
func (c *AddLayerCommand) EffectedElementUIDs() []string {
	return []string{c.Element.Common().UID}
}

// Description returns a human-readable description.
func (c *AddLayerCommand) Description() string {
	return fmt.Sprintf("Add %s layer %q", c.Element.Type(), c.Element.Common().Name)
}

// RemoveLayerCommand removes a node with its subtree.
type RemoveLayerCommand struct {
	Path document.Path

	done    executed
	removed *document.Removed
}

// NewRemoveLayerCommand creates a command removing the node at path.
func NewRemoveLayerCommand(path document.Path) *RemoveLayerCommand {
	return &RemoveLayerCommand{Path: slices.Clone(path)}
}

// Do removes the node.
func (c *RemoveLayerCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "remove layer"); err != nil {
		return err
	}
	removed, err := doc.RemoveNodeAt(c.Path)
	if err != nil {
		return fmt.Errorf("remove layer: %w", err)
	}
	c.removed = removed
	c.done = true
	return nil
}

// Undo reinserts the removed subtree at its former index.
func (c *RemoveLayerCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo remove layer"); err != nil {
		return err
	}
	r := c.removed
	if _, err := doc.InsertSubtree(r.Node, r.Elements, r.ParentPath, r.Index); err != nil {
		return fmt.Errorf("undo remove layer: %w", err)
	}
	return nil
}

// Redo removes the node again.
func (c *RemoveLayerCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo remove layer"); err != nil {
		return err
	}
	removed, err := doc.RemoveNodeAt(c.Path)
	if err != nil {
		return fmt.Errorf("redo remove layer: %w", err)
	}
	c.removed = removed
	return nil
}

// EffectedElementUIDs returns every uid of the removed subtree.
func (c *RemoveLayerCommand) EffectedElementUIDs() []string {
	if c.removed == nil {
		return []string{c.Path.Last()}
	}
	return c.removed.Node.UIDs()
}

// Description returns a human-readable description.
func (c *RemoveLayerCommand) Description() string {
	if c.removed != nil && len(c.removed.Elements) > 0 {
		return fmt.Sprintf("Remove layer %q", c.removed.Elements[0].Common().Name)
	}
	return "Remove layer"
}

// MoveLayerCommand relinks a node elsewhere in the tree.
type MoveLayerCommand struct {
	Source document.Path

	// Either Target is set (move over target) or Parent/Index are.
	Target document.Path
	Parent document.Path
	Index  int

	over    bool
	done    executed
	moved   *document.Moved
	subtree []string
}

// NewMoveLayerOverCommand moves source directly in front of target.
func NewMoveLayerOverCommand(source, target document.Path) *MoveLayerCommand {
	return &MoveLayerCommand{Source: slices.Clone(source), Target: slices.Clone(target), over: true}
}

// NewMoveLayerIntoCommand moves source under parent at index.
func NewMoveLayerIntoCommand(source, parent document.Path, index int) *MoveLayerCommand {
	return &MoveLayerCommand{Source: slices.Clone(source), Parent: slices.Clone(parent), Index: index}
}

// Do performs the move.
func (c *MoveLayerCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "move layer"); err != nil {
		return err
	}
	var (
		moved *document.Moved
		err   error
	)
	if c.over {
		moved, err = doc.MoveLayerNodeOver(c.Source, c.Target)
	} else {
		moved, err = doc.MoveLayerNodeInto(c.Source, c.Parent, c.Index)
	}
	if err != nil {
		return fmt.Errorf("move layer: %w", err)
	}
	c.moved = moved
	if n, ok := doc.GetNodeAtPath(moved.ToParent.Child(moved.UID)); ok {
		c.subtree = n.UIDs()
	}
	c.done = true
	return nil
}

// Undo moves the node back to its original parent and index.
func (c *MoveLayerCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo move layer"); err != nil {
		return err
	}
	m := c.moved
	if _, err := doc.MoveLayerNodeInto(m.ToParent.Child(m.UID), m.FromParent, m.FromIndex); err != nil {
		return fmt.Errorf("undo move layer: %w", err)
	}
	return nil
}

// Redo repeats the recorded move.
func (c *MoveLayerCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo move layer"); err != nil {
		return err
	}
	m := c.moved
	if _, err := doc.MoveLayerNodeInto(m.FromParent.Child(m.UID), m.ToParent, m.ToIndex); err != nil {
		return fmt.Errorf("redo move layer: %w", err)
	}
	return nil
}

// Moved returns the recorded move, or nil before Do.
func (c *MoveLayerCommand) Moved() *document.Moved {
	return c.moved
}

// EffectedElementUIDs returns the uids of the moved subtree.
func (c *MoveLayerCommand) EffectedElementUIDs() []string {
	if c.subtree == nil {
		return []string{c.Source.Last()}
	}
	return c.subtree
}

// Description returns a human-readable description.
func (c *MoveLayerCommand) Description() string {
	return "Move layer"
}

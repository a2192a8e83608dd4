package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
	"github.com/dshills/easel/internal/patch"
)

// ElementMutator edits a private clone of an element.
type ElementMutator func(el document.Element) error

// UpdateElementCommand changes element attributes through a structural diff.
type UpdateElementCommand struct {
	ElementUID string
	Mutate     ElementMutator
	Name       string

	done  executed
	patch *patch.Patch
}

// NewUpdateElementCommand creates a command applying mutate to the element
// with uid. The mutator receives a clone; it must not change the uid or type.
func NewUpdateElementCommand(uid, name string, mutate ElementMutator) *UpdateElementCommand {
	return &UpdateElementCommand{ElementUID: uid, Mutate: mutate, Name: name}
}

// Do clones the element, runs the mutator on the clone, diffs and applies
// the patch to the live document once.
func (c *UpdateElementCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "update element"); err != nil {
		return err
	}
	if c.Mutate == nil {
		return fmt.Errorf("update element: nil mutator: %w", derrors.ErrInvalidOption)
	}
	p, err := diffElement(doc, c.ElementUID, c.Mutate)
	if err != nil {
		return err
	}
	if err := applyElementPatch(doc, c.ElementUID, p, true); err != nil {
		return err
	}
	c.patch = p
	c.done = true
	return nil
}

// Undo reverts the recorded patch.
func (c *UpdateElementCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo update element"); err != nil {
		return err
	}
	return applyElementPatch(doc, c.ElementUID, c.patch, false)
}

// Redo re-applies the recorded patch.
func (c *UpdateElementCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo update element"); err != nil {
		return err
	}
	return applyElementPatch(doc, c.ElementUID, c.patch, true)
}

// Patch returns the recorded patch, or nil before Do.
func (c *UpdateElementCommand) Patch() *patch.Patch {
	return c.patch
}

// EffectedElementUIDs returns the updated element's uid.
func (c *UpdateElementCommand) EffectedElementUIDs() []string {
	return []string{c.ElementUID}
}

// Description returns a human-readable description.
func (c *UpdateElementCommand) Description() string {
	if c.Name != "" {
		return c.Name
	}
	return "Update element"
}

// diffElement runs mutate on a clone of the element and returns the patch
// from the live element to the clone.
func diffElement(doc *document.Document, uid string, mutate ElementMutator) (*patch.Patch, error) {
	cur, err := doc.Element(uid)
	if err != nil {
		return nil, err
	}
	if uid == document.RootUID {
		return nil, derrors.NewElementError("update", uid, fmt.Errorf("root is not editable: %w", derrors.ErrInvalidOption))
	}
	before, err := document.MarshalElement(cur)
	if err != nil {
		return nil, err
	}
	clone, err := document.UnmarshalElement(before)
	if err != nil {
		return nil, err
	}
	if err := mutate(clone); err != nil {
		return nil, derrors.NewElementError("update", uid, err)
	}
	if clone.Common().UID != uid || clone.Type() != cur.Type() {
		return nil, derrors.NewElementError("update", uid,
			fmt.Errorf("mutator changed identity: %w", derrors.ErrInvalidOption))
	}
	after, err := document.MarshalElement(clone)
	if err != nil {
		return nil, err
	}
	return patch.Diff(before, after)
}

// applyElementPatch applies p (forward) or reverts it on the live element.
func applyElementPatch(doc *document.Document, uid string, p *patch.Patch, forward bool) error {
	if p == nil {
		return derrors.NewElementError("patch", uid, fmt.Errorf("no recorded patch: %w", derrors.ErrInvariant))
	}
	if p.Empty() {
		return nil
	}
	cur, err := doc.Element(uid)
	if err != nil {
		return err
	}
	data, err := document.MarshalElement(cur)
	if err != nil {
		return err
	}
	if forward {
		data, err = patch.Apply(data, p)
	} else {
		data, err = patch.Revert(data, p)
	}
	if err != nil {
		return derrors.NewElementError("patch", uid, err)
	}
	next, err := document.UnmarshalElement(data)
	if err != nil {
		return derrors.NewElementError("patch", uid, err)
	}
	return doc.ReplaceElement(next)
}

// FilterEdit mutates one filter of an element.
type FilterEdit struct {
	FilterUID string
	Mutate    func(f *document.Filter) error
}

// UpdateFiltersCommand applies several filter edits to one element. Each
// edit is diffed and applied on its own; if one fails, the edits already
// applied are reverted before the error is returned.
type UpdateFiltersCommand struct {
	ElementUID string
	Edits      []FilterEdit

	done    executed
	patches []*patch.Patch
}

// NewUpdateFiltersCommand creates a batch filter edit.
func NewUpdateFiltersCommand(uid string, edits ...FilterEdit) *UpdateFiltersCommand {
	return &UpdateFiltersCommand{ElementUID: uid, Edits: edits}
}

// Do applies the edits in order.
func (c *UpdateFiltersCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "update filters"); err != nil {
		return err
	}
	applied := make([]*patch.Patch, 0, len(c.Edits))
	rollback := func() error {
		var errs []error
		for i := len(applied) - 1; i >= 0; i-- {
			if err := applyElementPatch(doc, c.ElementUID, applied[i], false); err != nil {
				errs = append(errs, fmt.Errorf("roll back edit %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	}

	for i, edit := range c.Edits {
		p, err := diffElement(doc, c.ElementUID, func(el document.Element) error {
			idx := el.Common().FilterIndex(edit.FilterUID)
			if idx < 0 {
				return fmt.Errorf("filter %s: %w", edit.FilterUID, derrors.ErrNotFound)
			}
			if edit.Mutate == nil {
				return fmt.Errorf("filter %s: nil mutator: %w", edit.FilterUID, derrors.ErrInvalidOption)
			}
			f := &el.Common().Filters[idx]
			if err := edit.Mutate(f); err != nil {
				return err
			}
			if f.UID != edit.FilterUID {
				return fmt.Errorf("filter %s: uid changed: %w", edit.FilterUID, derrors.ErrInvalidOption)
			}
			return nil
		})
		if err == nil {
			err = applyElementPatch(doc, c.ElementUID, p, true)
		}
		if err != nil {
			err = fmt.Errorf("update filters edit %d: %w", i, err)
			if rerr := rollback(); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		applied = append(applied, p)
	}

	c.patches = applied
	c.done = true
	return nil
}

// Undo reverts the edits in reverse order.
func (c *UpdateFiltersCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo update filters"); err != nil {
		return err
	}
	for i := len(c.patches) - 1; i >= 0; i-- {
		if err := applyElementPatch(doc, c.ElementUID, c.patches[i], false); err != nil {
			return fmt.Errorf("undo update filters edit %d: %w", i, err)
		}
	}
	return nil
}

// Redo re-applies the edits in order.
func (c *UpdateFiltersCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo update filters"); err != nil {
		return err
	}
	for i, p := range c.patches {
		if err := applyElementPatch(doc, c.ElementUID, p, true); err != nil {
			return fmt.Errorf("redo update filters edit %d: %w", i, err)
		}
	}
	return nil
}

// EffectedElementUIDs returns the element's uid.
func (c *UpdateFiltersCommand) EffectedElementUIDs() []string {
	return []string{c.ElementUID}
}

// Description returns a human-readable description.
func (c *UpdateFiltersCommand) Description() string {
	if len(c.Edits) == 1 {
		return "Update filter"
	}
	return fmt.Sprintf("Update %d filters", len(c.Edits))
}

// NewAddFilterCommand inserts f into the element's filter list at index
// (document.AppendIndex appends).
func NewAddFilterCommand(uid string, f document.Filter, index int) *UpdateElementCommand {
	return NewUpdateElementCommand(uid, "Add filter "+f.Kind, func(el document.Element) error {
		b := el.Common()
		if f.UID == "" {
			return fmt.Errorf("add filter: missing uid: %w", derrors.ErrInvalidOption)
		}
		if b.FilterIndex(f.UID) >= 0 {
			return fmt.Errorf("add filter %s: already present: %w", f.UID, derrors.ErrInvalidOption)
		}
		if index < 0 || index > len(b.Filters) {
			index = len(b.Filters)
		}
		b.Filters = slices.Insert(b.Filters, index, f)
		return nil
	})
}

// NewRemoveFilterCommand removes the filter with filterUID.
func NewRemoveFilterCommand(uid, filterUID string) *UpdateElementCommand {
	return NewUpdateElementCommand(uid, "Remove filter", func(el document.Element) error {
		b := el.Common()
		i := b.FilterIndex(filterUID)
		if i < 0 {
			return fmt.Errorf("remove filter %s: %w", filterUID, derrors.ErrNotFound)
		}
		b.Filters = slices.Delete(b.Filters, i, i+1)
		return nil
	})
}

// UpdateMetaCommand changes document meta through a structural diff.
type UpdateMetaCommand struct {
	Mutate func(m *document.Meta) error

	done     executed
	patch    *patch.Patch
	effected []string
}

// NewUpdateMetaCommand creates a meta update. Changing the schema version
// is rejected.
func NewUpdateMetaCommand(mutate func(m *document.Meta) error) *UpdateMetaCommand {
	return &UpdateMetaCommand{Mutate: mutate}
}

// Do applies the mutation.
func (c *UpdateMetaCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "update meta"); err != nil {
		return err
	}
	if c.Mutate == nil {
		return fmt.Errorf("update meta: nil mutator: %w", derrors.ErrInvalidOption)
	}
	clone := doc.Meta
	if err := c.Mutate(&clone); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	if clone.SchemaVersion != doc.Meta.SchemaVersion {
		return fmt.Errorf("update meta: schema version is fixed: %w", derrors.ErrInvalidOption)
	}
	p, err := patch.DiffValues(doc.Meta, clone)
	if err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	if err := applyMetaPatch(doc, p, true); err != nil {
		return err
	}
	c.patch = p
	c.effected = make([]string, 0, doc.Len())
	for _, el := range doc.Elements() {
		c.effected = append(c.effected, el.Common().UID)
	}
	c.done = true
	return nil
}

// Undo reverts the meta patch.
func (c *UpdateMetaCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo update meta"); err != nil {
		return err
	}
	return applyMetaPatch(doc, c.patch, false)
}

// Redo re-applies the meta patch.
func (c *UpdateMetaCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo update meta"); err != nil {
		return err
	}
	return applyMetaPatch(doc, c.patch, true)
}

// EffectedElementUIDs returns every element uid; artboard changes affect all.
func (c *UpdateMetaCommand) EffectedElementUIDs() []string {
	return c.effected
}

// Description returns a human-readable description.
func (c *UpdateMetaCommand) Description() string {
	return "Update document properties"
}

func applyMetaPatch(doc *document.Document, p *patch.Patch, forward bool) error {
	data, err := json.Marshal(doc.Meta)
	if err != nil {
		return fmt.Errorf("meta patch: %w", err)
	}
	if forward {
		data, err = patch.Apply(data, p)
	} else {
		data, err = patch.Revert(data, p)
	}
	if err != nil {
		return fmt.Errorf("meta patch: %w", err)
	}
	var m document.Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("meta patch: %v: %w", err, derrors.ErrInvariant)
	}
	doc.Meta = m
	return nil
}

// RestructureCommand reorders the tree through a structural diff of the
// tree itself. The mutator may reorder and reparent nodes but must keep the
// same set of element uids.
type RestructureCommand struct {
	Mutate func(root *document.Node) error
	Name   string

	done     executed
	patch    *patch.Patch
	effected []string
}

// NewRestructureCommand creates a tree restructuring command.
func NewRestructureCommand(name string, mutate func(root *document.Node) error) *RestructureCommand {
	return &RestructureCommand{Mutate: mutate, Name: name}
}

// Do applies the mutation.
func (c *RestructureCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "restructure"); err != nil {
		return err
	}
	if c.Mutate == nil {
		return fmt.Errorf("restructure: nil mutator: %w", derrors.ErrInvalidOption)
	}
	root := doc.Root()
	clone := root.Clone()
	if err := c.Mutate(clone); err != nil {
		return fmt.Errorf("restructure: %w", err)
	}
	before, after := root.UIDs(), clone.UIDs()
	slices.Sort(before)
	slices.Sort(after)
	if !slices.Equal(before, after) {
		return fmt.Errorf("restructure: element set changed: %w", derrors.ErrInvalidOption)
	}
	p, err := patch.DiffValues(root, clone)
	if err != nil {
		return fmt.Errorf("restructure: %w", err)
	}
	if err := applyTreePatch(doc, p, true); err != nil {
		return err
	}
	c.patch = p
	c.effected = placementChanges(root, doc.Root())
	c.done = true
	return nil
}

// Undo reverts the tree patch.
func (c *RestructureCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo restructure"); err != nil {
		return err
	}
	return applyTreePatch(doc, c.patch, false)
}

// Redo re-applies the tree patch.
func (c *RestructureCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo restructure"); err != nil {
		return err
	}
	return applyTreePatch(doc, c.patch, true)
}

// EffectedElementUIDs returns the uids whose parent or index changed.
func (c *RestructureCommand) EffectedElementUIDs() []string {
	return c.effected
}

// Description returns a human-readable description.
func (c *RestructureCommand) Description() string {
	if c.Name != "" {
		return c.Name
	}
	return "Restructure layers"
}

func applyTreePatch(doc *document.Document, p *patch.Patch, forward bool) error {
	if p == nil {
		return fmt.Errorf("tree patch: no recorded patch: %w", derrors.ErrInvariant)
	}
	data, err := json.Marshal(doc.Root())
	if err != nil {
		return fmt.Errorf("tree patch: %w", err)
	}
	if forward {
		data, err = patch.Apply(data, p)
	} else {
		data, err = patch.Revert(data, p)
	}
	if err != nil {
		return fmt.Errorf("tree patch: %w", err)
	}
	var root document.Node
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("tree patch: %v: %w", err, derrors.ErrInvariant)
	}
	return doc.ReplaceTree(&root)
}

type placement struct {
	parent string
	index  int
}

func placements(root *document.Node) map[string]placement {
	out := make(map[string]placement)
	var visit func(n *document.Node)
	visit = func(n *document.Node) {
		for i, c := range n.Children {
			out[c.ElementUID] = placement{parent: n.ElementUID, index: i}
			visit(c)
		}
	}
	visit(root)
	return out
}

func placementChanges(before, after *document.Node) []string {
	a, b := placements(before), placements(after)
	var out []string
	for _, uid := range after.UIDs() {
		if a[uid] != b[uid] {
			out = append(out, uid)
		}
	}
	return out
}

package document

import (
	"fmt"
	"slices"

	derrors "github.com/dshills/easel/internal/errors"
)

// Path is an ordered list of element uids from the (implicit) root. The empty
// path addresses the root itself.
type Path []string

// Child returns a new path extended by uid.
func (p Path) Child(uid string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, uid)
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return slices.Clone(p[:len(p)-1])
}

// Last returns the last uid, or "" for the root path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// AppendIndex is the insertion index meaning "frontmost": push to the end of
// the children list. New strokes paint on top by default.
const AppendIndex = -1

// Removed describes a subtree detached by RemoveNodeAt.
type Removed struct {
	Node       *Node     // Detached subtree
	Elements   []Element // Elements of the subtree in paint order
	ParentPath Path      // Path of the former parent
	Index      int       // Former index within the parent
}

// Moved describes a completed move.
type Moved struct {
	UID        string
	FromParent Path
	FromIndex  int
	ToParent   Path
	ToIndex    int
}

// GetNodeAtPath walks children by uid. A path segment that does not resolve
// yields (nil, false); that is not an error.
func (d *Document) GetNodeAtPath(path Path) (*Node, bool) {
	n := d.tree
	for _, uid := range path {
		c, _ := n.Child(uid)
		if c == nil {
			return nil, false
		}
		n = c
	}
	return n, true
}

// GetAncestorContainerNode returns the parent of the node at path.
func (d *Document) GetAncestorContainerNode(path Path) (*Node, bool) {
	if len(path) == 0 {
		return nil, false
	}
	return d.GetNodeAtPath(path.Parent())
}

// IndexOf returns the index of the node at path within its parent.
func (d *Document) IndexOf(path Path) (int, bool) {
	parent, ok := d.GetAncestorContainerNode(path)
	if !ok {
		return -1, false
	}
	_, i := parent.Child(path.Last())
	return i, i >= 0
}

// IsChildrenContainableNode reports whether n may hold children: the root
// and group elements only.
func (d *Document) IsChildrenContainableNode(n *Node) bool {
	if n == nil {
		return false
	}
	if n.IsRoot() {
		return true
	}
	el, ok := d.elements[n.ElementUID]
	return ok && IsContainer(el)
}

// IsChildrenContainablePath is IsChildrenContainableNode addressed by path.
func (d *Document) IsChildrenContainablePath(path Path) bool {
	n, ok := d.GetNodeAtPath(path)
	return ok && d.IsChildrenContainableNode(n)
}

// AddLayerNode registers el if it is not already present and inserts a new
// child node for it under parentPath at index (AppendIndex for frontmost).
// It returns the index used.
func (d *Document) AddLayerNode(el Element, parentPath Path, index int) (int, error) {
	if el == nil || el.Common().UID == "" {
		return -1, fmt.Errorf("add layer: element without uid: %w", derrors.ErrInvalidOption)
	}
	if el.Common().UID == RootUID {
		return -1, fmt.Errorf("add layer: reserved uid: %w", derrors.ErrInvalidOption)
	}
	return d.InsertSubtree(NewNode(el.Common().UID), []Element{el}, parentPath, index)
}

// InsertSubtree attaches a detached subtree and registers its elements. It
// is the inverse of RemoveNodeAt.
func (d *Document) InsertSubtree(node *Node, elements []Element, parentPath Path, index int) (int, error) {
	parent, ok := d.GetNodeAtPath(parentPath)
	if !ok {
		return -1, derrors.NewPathError("insert", parentPath, derrors.ErrNotFound)
	}

	byUID := make(map[string]Element, len(elements))
	for _, el := range elements {
		byUID[el.Common().UID] = el
	}
	for _, uid := range node.UIDs() {
		if _, found := d.FindNodePathByElement(uid); found {
			return -1, derrors.NewElementError("insert", uid,
				fmt.Errorf("node already in tree: %w", derrors.ErrInvalidOption))
		}
		if _, ok := byUID[uid]; !ok && !d.HasElement(uid) {
			return -1, derrors.NewElementError("insert", uid, derrors.ErrNotFound)
		}
	}

	// Check containment with the incoming elements visible.
	if !parent.IsRoot() {
		pel, ok := d.elements[parent.ElementUID]
		if !ok || !IsContainer(pel) {
			return -1, derrors.NewPathError("insert", parentPath,
				fmt.Errorf("parent cannot contain children: %w", derrors.ErrInvalidOption))
		}
	}

	for _, el := range elements {
		if !d.HasElement(el.Common().UID) {
			d.elements[el.Common().UID] = el
		}
	}
	normalize(node)
	return parent.insertChild(node, index), nil
}

// RemoveNodeAt detaches the node at path together with its subtree and
// unregisters the subtree's elements.
func (d *Document) RemoveNodeAt(path Path) (*Removed, error) {
	if len(path) == 0 {
		return nil, derrors.NewPathError("remove", path, fmt.Errorf("cannot remove root: %w", derrors.ErrInvalidOption))
	}
	parent, ok := d.GetAncestorContainerNode(path)
	if !ok {
		return nil, derrors.NewPathError("remove", path, derrors.ErrNotFound)
	}
	_, index := parent.Child(path.Last())
	if index < 0 {
		return nil, derrors.NewPathError("remove", path, derrors.ErrNotFound)
	}

	node := parent.removeChild(index)
	uids := node.UIDs()
	elements := make([]Element, 0, len(uids))
	for _, uid := range uids {
		if el, ok := d.elements[uid]; ok {
			elements = append(elements, el)
			delete(d.elements, uid)
		}
	}

	return &Removed{
		Node:       node,
		Elements:   elements,
		ParentPath: path.Parent(),
		Index:      index,
	}, nil
}

// MoveLayerNodeOver moves the node at sourcePath so it sits directly in front
// of the node at targetPath, inside the target's parent.
func (d *Document) MoveLayerNodeOver(sourcePath, targetPath Path) (*Moved, error) {
	if len(targetPath) == 0 {
		return nil, derrors.NewPathError("move", targetPath, fmt.Errorf("target is root: %w", derrors.ErrInvalidOption))
	}
	if slices.Equal(sourcePath, targetPath) {
		return nil, derrors.NewPathError("move", sourcePath, fmt.Errorf("source is target: %w", derrors.ErrInvalidOption))
	}
	if _, ok := d.GetNodeAtPath(targetPath); !ok {
		return nil, derrors.NewPathError("move", targetPath, derrors.ErrNotFound)
	}
	return d.move(sourcePath, targetPath.Parent(), func(parent *Node) int {
		_, i := parent.Child(targetPath.Last())
		return i + 1
	})
}

// MoveLayerNodeInto moves the node at sourcePath under parentPath at index
// (AppendIndex for frontmost). index is interpreted after the source has been
// detached.
func (d *Document) MoveLayerNodeInto(sourcePath, parentPath Path, index int) (*Moved, error) {
	return d.move(sourcePath, parentPath, func(*Node) int { return index })
}

// move validates everything before detaching so a failed move leaves the
// tree untouched. The subtree is relinked, never copied.
func (d *Document) move(sourcePath, parentPath Path, indexIn func(parent *Node) int) (*Moved, error) {
	if len(sourcePath) == 0 {
		return nil, derrors.NewPathError("move", sourcePath, fmt.Errorf("cannot move root: %w", derrors.ErrInvalidOption))
	}
	fromParent, ok := d.GetAncestorContainerNode(sourcePath)
	if !ok {
		return nil, derrors.NewPathError("move", sourcePath, derrors.ErrNotFound)
	}
	_, fromIndex := fromParent.Child(sourcePath.Last())
	if fromIndex < 0 {
		return nil, derrors.NewPathError("move", sourcePath, derrors.ErrNotFound)
	}
	toParent, ok := d.GetNodeAtPath(parentPath)
	if !ok {
		return nil, derrors.NewPathError("move", parentPath, derrors.ErrNotFound)
	}
	if !d.IsChildrenContainableNode(toParent) {
		return nil, derrors.NewPathError("move", parentPath,
			fmt.Errorf("parent cannot contain children: %w", derrors.ErrInvalidOption))
	}
	if len(parentPath) >= len(sourcePath) && slices.Equal(parentPath[:len(sourcePath)], sourcePath) {
		return nil, derrors.NewPathError("move", parentPath,
			fmt.Errorf("cannot move a node into its own subtree: %w", derrors.ErrInvalidOption))
	}

	node := fromParent.removeChild(fromIndex)
	toIndex := toParent.insertChild(node, indexIn(toParent))

	return &Moved{
		UID:        node.ElementUID,
		FromParent: sourcePath.Parent(),
		FromIndex:  fromIndex,
		ToParent:   slices.Clone(parentPath),
		ToIndex:    toIndex,
	}, nil
}

// FindNodePathByElement returns the path of the first node referencing uid
// in depth-first order.
func (d *Document) FindNodePathByElement(uid string) (Path, bool) {
	var found Path
	var search func(n *Node, path Path) bool
	search = func(n *Node, path Path) bool {
		for _, c := range n.Children {
			p := path.Child(c.ElementUID)
			if c.ElementUID == uid {
				found = p
				return true
			}
			if search(c, p) {
				return true
			}
		}
		return false
	}
	if search(d.tree, nil) {
		return found, true
	}
	return nil, false
}

// Walk visits every non-root node in paint order (parents before children,
// back to front). Returning an error stops the walk.
func (d *Document) Walk(fn func(path Path, n *Node) error) error {
	var visit func(n *Node, path Path) error
	visit = func(n *Node, path Path) error {
		for _, c := range n.Children {
			p := path.Child(c.ElementUID)
			if err := fn(p, c); err != nil {
				return err
			}
			if err := visit(c, p); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(d.tree, nil)
}

func normalize(n *Node) {
	if n.Children == nil {
		n.Children = []*Node{}
	}
	for _, c := range n.Children {
		normalize(c)
	}
}

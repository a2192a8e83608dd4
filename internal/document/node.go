package document

// RootUID is the reserved element uid of the synthetic tree root.
const RootUID = "__root__"

// Node is a tree entry referencing one element by uid. Child order is paint
// order: index 0 is farthest back, the last child is frontmost.
type Node struct {
	ElementUID string  `json:"elementUid"`
	Children   []*Node `json:"children"`
}

// NewNode creates a leaf node for uid.
func NewNode(uid string) *Node {
	return &Node{ElementUID: uid, Children: []*Node{}}
}

// IsRoot reports whether n is the synthetic root.
func (n *Node) IsRoot() bool {
	return n.ElementUID == RootUID
}

// Child returns the direct child referencing uid and its index.
func (n *Node) Child(uid string) (*Node, int) {
	for i, c := range n.Children {
		if c.ElementUID == uid {
			return c, i
		}
	}
	return nil, -1
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{ElementUID: n.ElementUID, Children: make([]*Node, len(n.Children))}
	for i, child := range n.Children {
		c.Children[i] = child.Clone()
	}
	return c
}

// UIDs returns the element uids of the subtree in depth-first paint order,
// including n itself unless it is the root.
func (n *Node) UIDs() []string {
	var out []string
	n.walk(func(node *Node) {
		if !node.IsRoot() {
			out = append(out, node.ElementUID)
		}
	})
	return out
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// insertChild inserts c at index; a negative or past-the-end index appends.
// It returns the index actually used.
func (n *Node) insertChild(c *Node, index int) int {
	if index < 0 || index >= len(n.Children) {
		n.Children = append(n.Children, c)
		return len(n.Children) - 1
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[index+1:], n.Children[index:])
	n.Children[index] = c
	return index
}

// removeChild removes the child at index.
func (n *Node) removeChild(index int) *Node {
	c := n.Children[index]
	copy(n.Children[index:], n.Children[index+1:])
	n.Children[len(n.Children)-1] = nil
	n.Children = n.Children[:len(n.Children)-1]
	return c
}

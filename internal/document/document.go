// Package document provides the editable document model: a flat registry of
// elements, an ordered tree over element uids, and the binary blobs raster
// elements reference.
//
// The tree and the element set are mutated together only through the node
// index operations in index.go (AddLayerNode, RemoveNodeAt, MoveLayerNodeOver,
// ...). The Document performs no internal locking; callers serialize writers
// through the session's commit lock.
package document

import (
	"fmt"
	"slices"

	derrors "github.com/dshills/easel/internal/errors"
)

// SchemaVersion is the persisted layout version written by Marshal.
const SchemaVersion = 1

// Meta holds document-level properties.
type Meta struct {
	SchemaVersion  int    `json:"schemaVersion"`
	Title          string `json:"title"`
	ArtboardWidth  int    `json:"artboardWidth"`
	ArtboardHeight int    `json:"artboardHeight"`
}

// Blob is a binary payload, such as raster pixels, referenced by uid.
type Blob struct {
	UID       string `json:"uid"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// MediaTypeRGBA is the media type of raw non-premultiplied RGBA pixels.
const MediaTypeRGBA = "image/x-rgba"

// Document is the single live editing target of a session.
type Document struct {
	UID  string
	Meta Meta

	elements  map[string]Element
	tree      *Node
	blobs     map[string]*Blob
	blobOrder []string
}

// New creates an empty document with the given title and artboard size.
func New(title string, width, height int) *Document {
	return &Document{
		UID: NewUID(),
		Meta: Meta{
			SchemaVersion:  SchemaVersion,
			Title:          title,
			ArtboardWidth:  width,
			ArtboardHeight: height,
		},
		elements: make(map[string]Element),
		tree:     NewNode(RootUID),
		blobs:    make(map[string]*Blob),
	}
}

// Root returns the synthetic root node.
func (d *Document) Root() *Node {
	return d.tree
}

// Len returns the number of elements in the registry.
func (d *Document) Len() int {
	return len(d.elements)
}

// Element returns the element with uid. The root uid resolves to a
// synthesized group standing in for the root.
func (d *Document) Element(uid string) (Element, error) {
	if uid == RootUID {
		return d.rootElement(), nil
	}
	el, ok := d.elements[uid]
	if !ok {
		return nil, derrors.NewElementError("lookup", uid, derrors.ErrNotFound)
	}
	return el, nil
}

// HasElement reports whether uid is registered.
func (d *Document) HasElement(uid string) bool {
	_, ok := d.elements[uid]
	return ok
}

// Elements returns all registered elements ordered by uid.
func (d *Document) Elements() []Element {
	uids := make([]string, 0, len(d.elements))
	for uid := range d.elements {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	out := make([]Element, len(uids))
	for i, uid := range uids {
		out[i] = d.elements[uid]
	}
	return out
}

// ReplaceElement swaps the registered element that has el's uid for el.
// The variant may not change.
func (d *Document) ReplaceElement(el Element) error {
	uid := el.Common().UID
	cur, ok := d.elements[uid]
	if !ok {
		return derrors.NewElementError("replace", uid, derrors.ErrNotFound)
	}
	if cur.Type() != el.Type() {
		return derrors.NewElementError("replace", uid,
			fmt.Errorf("type %s cannot become %s: %w", cur.Type(), el.Type(), derrors.ErrInvalidOption))
	}
	d.elements[uid] = el
	return nil
}

func (d *Document) rootElement() Element {
	g := &Group{Base: NewBase("root")}
	g.UID = RootUID
	return g
}

// Blob returns the blob with uid.
func (d *Document) Blob(uid string) (*Blob, error) {
	b, ok := d.blobs[uid]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", uid, derrors.ErrNotFound)
	}
	return b, nil
}

// PutBlob registers b, replacing any blob with the same uid.
func (d *Document) PutBlob(b *Blob) error {
	if b == nil || b.UID == "" {
		return fmt.Errorf("put blob: missing uid: %w", derrors.ErrInvalidOption)
	}
	if _, ok := d.blobs[b.UID]; !ok {
		d.blobOrder = append(d.blobOrder, b.UID)
	}
	d.blobs[b.UID] = b
	return nil
}

// AddBlob registers data as a new blob and returns its uid.
func (d *Document) AddBlob(mediaType string, data []byte) string {
	uid := NewUID()
	_ = d.PutBlob(&Blob{UID: uid, MediaType: mediaType, Data: data})
	return uid
}

// SetBlobData replaces a blob's payload and returns the previous one.
func (d *Document) SetBlobData(uid string, data []byte) ([]byte, error) {
	b, ok := d.blobs[uid]
	if !ok {
		return nil, fmt.Errorf("set blob %s: %w", uid, derrors.ErrNotFound)
	}
	prev := b.Data
	b.Data = data
	return prev, nil
}

// Blobs returns the blobs in registration order.
func (d *Document) Blobs() []*Blob {
	out := make([]*Blob, 0, len(d.blobOrder))
	for _, uid := range d.blobOrder {
		out = append(out, d.blobs[uid])
	}
	return out
}

// ReplaceTree installs root as the document tree after checking that it
// references exactly the registered elements.
func (d *Document) ReplaceTree(root *Node) error {
	if root == nil || !root.IsRoot() {
		return fmt.Errorf("replace tree: root must be %s: %w", RootUID, derrors.ErrInvalidOption)
	}
	normalize(root)
	if err := checkForest(root, d.elements); err != nil {
		return fmt.Errorf("replace tree: %w", err)
	}
	d.tree = root
	return nil
}

// Validate checks the document invariants: every non-root node references a
// registered element, no node appears twice, and every element is in the tree.
func (d *Document) Validate() error {
	return checkForest(d.tree, d.elements)
}

func checkForest(root *Node, elements map[string]Element) error {
	seen := make(map[string]bool, len(elements))
	var visit func(n *Node, depth int) error
	visit = func(n *Node, depth int) error {
		if depth > 0 {
			if n.IsRoot() {
				return fmt.Errorf("nested root node: %w", derrors.ErrInvariant)
			}
			el, ok := elements[n.ElementUID]
			if !ok {
				return derrors.NewElementError("tree", n.ElementUID, derrors.ErrNotFound)
			}
			if seen[n.ElementUID] {
				return derrors.NewElementError("tree", n.ElementUID,
					fmt.Errorf("node appears twice: %w", derrors.ErrInvariant))
			}
			seen[n.ElementUID] = true
			if len(n.Children) > 0 && !IsContainer(el) {
				return derrors.NewElementError("tree", n.ElementUID,
					fmt.Errorf("%s element has children: %w", el.Type(), derrors.ErrInvariant))
			}
		}
		for _, c := range n.Children {
			if err := visit(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root, 0); err != nil {
		return err
	}
	if len(seen) != len(elements) {
		return fmt.Errorf("%d elements are not in the tree: %w", len(elements)-len(seen), derrors.ErrInvariant)
	}
	return nil
}

package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	derrors "github.com/dshills/easel/internal/errors"
)

type persisted struct {
	UID      string            `json:"uid"`
	Meta     Meta              `json:"meta"`
	Elements []json.RawMessage `json:"elements"`
	Tree     *Node             `json:"tree"`
	Blobs    []*Blob           `json:"blobs"`
}

// Marshal encodes the document in the persisted layout. Elements are written
// in uid order so equal documents encode to equal bytes.
func Marshal(d *Document) ([]byte, error) {
	p := persisted{
		UID:      d.UID,
		Meta:     d.Meta,
		Elements: make([]json.RawMessage, 0, len(d.elements)),
		Tree:     d.tree,
		Blobs:    d.Blobs(),
	}
	for _, el := range d.Elements() {
		data, err := MarshalElement(el)
		if err != nil {
			return nil, err
		}
		p.Elements = append(p.Elements, data)
	}
	return json.Marshal(p)
}

// Unmarshal decodes a document written by Marshal and validates it.
func Unmarshal(data []byte) (*Document, error) {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	if p.Meta.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unmarshal document: schema version %d: %w", p.Meta.SchemaVersion, derrors.ErrInvalidOption)
	}

	d := &Document{
		UID:      p.UID,
		Meta:     p.Meta,
		elements: make(map[string]Element, len(p.Elements)),
		tree:     p.Tree,
		blobs:    make(map[string]*Blob, len(p.Blobs)),
	}
	if d.tree == nil {
		d.tree = NewNode(RootUID)
	}
	normalize(d.tree)

	for _, raw := range p.Elements {
		el, err := UnmarshalElement(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		uid := el.Common().UID
		if _, dup := d.elements[uid]; dup {
			return nil, derrors.NewElementError("unmarshal", uid,
				fmt.Errorf("duplicate element: %w", derrors.ErrInvalidOption))
		}
		d.elements[uid] = el
	}
	for _, b := range p.Blobs {
		if err := d.PutBlob(b); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
	}

	if !d.tree.IsRoot() {
		return nil, fmt.Errorf("unmarshal document: tree root is %q: %w", d.tree.ElementUID, derrors.ErrInvalidOption)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return d, nil
}

// Equal reports whether a and b are structurally equal: same uid, meta,
// element data, tree ordering and blobs.
func Equal(a, b *Document) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

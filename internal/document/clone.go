package document

import (
	"fmt"
	"slices"
)

// CloneElement returns a deep copy of el sharing no mutable state with it.
func CloneElement(el Element) (Element, error) {
	data, err := MarshalElement(el)
	if err != nil {
		return nil, fmt.Errorf("clone element: %w", err)
	}
	c, err := UnmarshalElement(data)
	if err != nil {
		return nil, fmt.Errorf("clone element: %w", err)
	}
	return c, nil
}

// Clone returns a deep copy of the document. Blob payloads are copied.
func (d *Document) Clone() *Document {
	c := &Document{
		UID:       d.UID,
		Meta:      d.Meta,
		elements:  make(map[string]Element, len(d.elements)),
		tree:      d.tree.Clone(),
		blobs:     make(map[string]*Blob, len(d.blobs)),
		blobOrder: slices.Clone(d.blobOrder),
	}
	for uid, el := range d.elements {
		if ce, err := CloneElement(el); err == nil {
			c.elements[uid] = ce
		}
	}
	for uid, b := range d.blobs {
		c.blobs[uid] = &Blob{UID: b.UID, MediaType: b.MediaType, Data: slices.Clone(b.Data)}
	}
	return c
}

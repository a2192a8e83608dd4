package history

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dshills/easel/internal/codec"
	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

// BitmapUpdater returns the next pixel buffer for a raster element. prev is
// a private copy of the current pixels. The result must be a new buffer;
// returning prev itself is rejected.
type BitmapUpdater func(prev []byte) ([]byte, error)

// UpdateBitmapCommand replaces a raster element's pixels by snapshot swap.
type UpdateBitmapCommand struct {
	ElementUID string
	Update     BitmapUpdater

	codec  *codec.Codec
	done   executed
	blob   string
	before *codec.Snapshot
	after  *codec.Snapshot
}

// NewUpdateBitmapCommand creates a bitmap edit. c may be nil to keep
// snapshots uncompressed.
func NewUpdateBitmapCommand(uid string, update BitmapUpdater, c *codec.Codec) *UpdateBitmapCommand {
	return &UpdateBitmapCommand{ElementUID: uid, Update: update, codec: c}
}

// Do runs the updater and swaps the new buffer in.
func (c *UpdateBitmapCommand) Do(ctx context.Context, doc *document.Document) error {
	if err := c.done.begin(ctx, "update bitmap"); err != nil {
		return err
	}
	if c.Update == nil {
		return fmt.Errorf("update bitmap: nil updater: %w", derrors.ErrInvalidOption)
	}
	r, blob, err := rasterBlob(doc, c.ElementUID)
	if err != nil {
		return err
	}
	prev := blob.Data
	scratch := bytes.Clone(prev)
	next, err := c.Update(scratch)
	if err != nil {
		return derrors.NewElementError("update bitmap", c.ElementUID, err)
	}
	if sameBuffer(scratch, next) {
		return derrors.NewElementError("update bitmap", c.ElementUID,
			fmt.Errorf("updater returned the previous buffer: %w", derrors.ErrInvalidOption))
	}
	if want := r.Width * r.Height * 4; len(next) != want {
		return derrors.NewElementError("update bitmap", c.ElementUID,
			fmt.Errorf("buffer has %d bytes, want %d: %w", len(next), want, derrors.ErrInvalidOption))
	}
	if _, err := doc.SetBlobData(blob.UID, next); err != nil {
		return derrors.NewElementError("update bitmap", c.ElementUID, err)
	}

	c.blob = blob.UID
	c.before = codec.NewSnapshot(prev, c.codec)
	c.after = codec.NewSnapshot(next, nil)
	c.done = true
	return nil
}

// Undo swaps the previous buffer back in.
func (c *UpdateBitmapCommand) Undo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("undo update bitmap"); err != nil {
		return err
	}
	return c.swap(doc, c.before)
}

// Redo swaps the next buffer back in.
func (c *UpdateBitmapCommand) Redo(ctx context.Context, doc *document.Document) error {
	if err := c.done.check("redo update bitmap"); err != nil {
		return err
	}
	return c.swap(doc, c.after)
}

func (c *UpdateBitmapCommand) swap(doc *document.Document, s *codec.Snapshot) error {
	data, err := s.Bytes()
	if err != nil {
		return derrors.NewElementError("swap bitmap", c.ElementUID, err)
	}
	if _, err := doc.SetBlobData(c.blob, data); err != nil {
		return derrors.NewElementError("swap bitmap", c.ElementUID, err)
	}
	return nil
}

// Compact compresses the previous buffer, which is only needed for Undo.
func (c *UpdateBitmapCommand) Compact(ctx context.Context) error {
	if c.before == nil {
		return nil
	}
	return c.before.Compact(ctx)
}

// EffectedElementUIDs returns the raster element's uid.
func (c *UpdateBitmapCommand) EffectedElementUIDs() []string {
	return []string{c.ElementUID}
}

// Description returns a human-readable description.
func (c *UpdateBitmapCommand) Description() string {
	return "Paint"
}

func rasterBlob(doc *document.Document, uid string) (*document.Raster, *document.Blob, error) {
	el, err := doc.Element(uid)
	if err != nil {
		return nil, nil, err
	}
	r, ok := el.(*document.Raster)
	if !ok {
		return nil, nil, derrors.NewElementError("update bitmap", uid,
			fmt.Errorf("%s element has no bitmap: %w", el.Type(), derrors.ErrInvalidOption))
	}
	blob, err := doc.Blob(r.BlobUID)
	if err != nil {
		return nil, nil, derrors.NewElementError("update bitmap", uid, err)
	}
	return r, blob, nil
}

// sameBuffer reports whether a and b are the same buffer instance.
func sameBuffer(a, b []byte) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return false
	}
	return &a[:cap(a)][0] == &b[:cap(b)][0]
}

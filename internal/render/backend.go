package render

import (
	"context"
	"fmt"
	"image"

	"github.com/gogpu/gg"

	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
)

// Backend rasterizes single leaf elements. Groups are composed by the
// orchestrator, never passed to a backend.
type Backend interface {
	// RenderElement draws el on a transparent bitmap of the given size.
	RenderElement(ctx context.Context, doc *document.Document, el document.Element, width, height int) (*gg.Pixmap, error)
}

// GGBackend is the software Backend built on gogpu/gg.
type GGBackend struct{}

// NewGGBackend creates a gg backend.
func NewGGBackend() *GGBackend {
	return &GGBackend{}
}

// RenderElement implements Backend. Filters are carried by the document
// but not applied; filter algorithms belong to a dedicated backend.
func (b *GGBackend) RenderElement(ctx context.Context, doc *document.Document, el document.Element, width, height int) (*gg.Pixmap, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("render element: %w", derrors.ErrAborted)
	}
	dc := gg.NewContext(width, height)
	defer dc.Close()

	var err error
	switch e := el.(type) {
	case *document.Raster:
		err = drawRaster(dc, doc, e)
	case *document.Vector:
		err = drawVector(dc, e)
	case *document.Text:
		drawText(dc, e)
	case *document.Group:
		return nil, derrors.NewElementError("render", e.UID,
			fmt.Errorf("groups are composed, not rasterized: %w", derrors.ErrInvalidOption))
	default:
		return nil, fmt.Errorf("render element %T: %w", el, derrors.ErrInvariant)
	}
	if err != nil {
		return nil, derrors.NewElementError("render", el.Common().UID, err)
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, err
	}
	return copyPixmap(dc.ResizeTarget()), nil
}

func drawRaster(dc *gg.Context, doc *document.Document, r *document.Raster) error {
	blob, err := doc.Blob(r.BlobUID)
	if err != nil {
		return err
	}
	if len(blob.Data) != r.Width*r.Height*4 {
		return fmt.Errorf("blob has %d bytes for %dx%d: %w", len(blob.Data), r.Width, r.Height, derrors.ErrInvariant)
	}
	if r.Width == 0 || r.Height == 0 {
		return nil
	}
	img := &image.NRGBA{
		Pix:    blob.Data,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
	dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             r.X,
		Y:             r.Y,
		Interpolation: gg.InterpNearest,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
	return nil
}

func drawVector(dc *gg.Context, v *document.Vector) error {
	if len(v.Points) == 0 {
		return nil
	}
	path := func() {
		dc.MoveTo(v.Points[0].X, v.Points[0].Y)
		for _, p := range v.Points[1:] {
			dc.LineTo(p.X, p.Y)
		}
		if v.Closed {
			dc.ClosePath()
		}
	}

	if v.Fill != "" {
		path()
		dc.SetHexColor(v.Fill)
		if err := dc.Fill(); err != nil {
			return err
		}
	}
	stroke := v.Stroke
	if stroke == "" && v.Fill == "" {
		stroke = "#000000"
	}
	if stroke != "" && v.StrokeWidth > 0 {
		path()
		dc.SetHexColor(stroke)
		dc.SetLineWidth(v.StrokeWidth)
		if err := dc.Stroke(); err != nil {
			return err
		}
	}
	return nil
}

// drawText draws nothing until a font face is configured on the context.
func drawText(dc *gg.Context, t *document.Text) {
	dc.SetHexColor(t.Color)
	dc.DrawString(t.Content, t.X, t.Y)
}

// blendMode maps a composite mode to the gg blend mode.
func blendMode(m document.CompositeMode) gg.BlendMode {
	switch m {
	case document.CompositeMultiply:
		return gg.BlendMultiply
	case document.CompositeScreen:
		return gg.BlendScreen
	case document.CompositeOverlay:
		return gg.BlendOverlay
	default:
		return gg.BlendNormal
	}
}

func copyPixmap(src *gg.Pixmap) *gg.Pixmap {
	dst := gg.NewPixmap(src.Width(), src.Height())
	copy(dst.Data(), src.Data())
	return dst
}

package document

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	derrors "github.com/dshills/easel/internal/errors"
)

// ElementType discriminates the Element variants.
type ElementType string

// Element variants.
const (
	TypeRaster ElementType = "raster"
	TypeVector ElementType = "vector"
	TypeGroup  ElementType = "group"
	TypeText   ElementType = "text"
)

// CompositeMode selects how an element blends onto what is behind it.
type CompositeMode string

// Composite modes.
const (
	CompositeNormal   CompositeMode = "normal"
	CompositeMultiply CompositeMode = "multiply"
	CompositeScreen   CompositeMode = "screen"
	CompositeOverlay  CompositeMode = "overlay"
)

// NewUID returns a fresh globally unique id.
func NewUID() string {
	return uuid.NewString()
}

// Filter is one entry of an element's ordered appearance/filter list.
type Filter struct {
	UID     string         `json:"uid"`
	Kind    string         `json:"kind"`
	Enabled bool           `json:"enabled"`
	Params  map[string]any `json:"params,omitempty"`
}

// NewFilter creates an enabled filter with a fresh uid.
func NewFilter(kind string, params map[string]any) Filter {
	return Filter{UID: NewUID(), Kind: kind, Enabled: true, Params: params}
}

// Base holds the fields common to every element.
type Base struct {
	UID           string        `json:"uid"`
	Name          string        `json:"name"`
	Visible       bool          `json:"visible"`
	Locked        bool          `json:"locked"`
	Opacity       float64       `json:"opacity"`
	CompositeMode CompositeMode `json:"compositeMode"`
	Filters       []Filter      `json:"filters"`
}

// NewBase returns visible, fully opaque common fields with a fresh uid.
func NewBase(name string) Base {
	return Base{
		UID:           NewUID(),
		Name:          name,
		Visible:       true,
		Opacity:       1,
		CompositeMode: CompositeNormal,
		Filters:       []Filter{},
	}
}

// Common returns the common fields.
func (b *Base) Common() *Base { return b }

// FilterIndex returns the index of the filter with uid, or -1.
func (b *Base) FilterIndex(uid string) int {
	for i := range b.Filters {
		if b.Filters[i].UID == uid {
			return i
		}
	}
	return -1
}

// Element is a visual entity owned by a Document. The set of variants is
// closed: Raster, Vector, Group and Text. Switches over Element must handle
// all four; the default branch is an invariant violation.
type Element interface {
	Common() *Base
	Type() ElementType
	element()
}

// Raster is a bitmap layer. Pixels live in the Document's blob list as
// non-premultiplied RGBA, Width*Height*4 bytes.
type Raster struct {
	Base
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	BlobUID string  `json:"blobUid"`
}

// Point is a vector path vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is a polyline or polygon shape.
type Vector struct {
	Base
	Points      []Point `json:"points"`
	Closed      bool    `json:"closed"`
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// Group is a container. Its children live in the tree, not in the element.
type Group struct {
	Base
}

// Text is a single run of text.
type Text struct {
	Base
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Content  string  `json:"content"`
	FontSize float64 `json:"fontSize"`
	Color    string  `json:"color"`
}

func (*Raster) Type() ElementType { return TypeRaster }
func (*Vector) Type() ElementType { return TypeVector }
func (*Group) Type() ElementType  { return TypeGroup }
func (*Text) Type() ElementType   { return TypeText }

func (*Raster) element() {}
func (*Vector) element() {}
func (*Group) element()  {}
func (*Text) element()   {}

// NewRaster creates a raster element referencing blobUID.
func NewRaster(name string, width, height int, blobUID string) *Raster {
	return &Raster{Base: NewBase(name), Width: width, Height: height, BlobUID: blobUID}
}

// NewVector creates a vector element.
func NewVector(name string, points []Point, closed bool) *Vector {
	return &Vector{Base: NewBase(name), Points: points, Closed: closed, StrokeWidth: 1}
}

// NewGroup creates an empty group element.
func NewGroup(name string) *Group {
	return &Group{Base: NewBase(name)}
}

// NewText creates a text element.
func NewText(name, content string, x, y float64) *Text {
	return &Text{Base: NewBase(name), Content: content, X: x, Y: y, FontSize: 16, Color: "#000000"}
}

// IsContainer reports whether el may have child nodes.
func IsContainer(el Element) bool {
	switch el.(type) {
	case *Group:
		return true
	case *Raster, *Vector, *Text:
		return false
	default:
		return false
	}
}

// MarshalElement encodes el as a JSON object tagged with its "type".
func MarshalElement(el Element) ([]byte, error) {
	switch e := el.(type) {
	case *Raster:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Raster
		}{TypeRaster, e})
	case *Vector:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Vector
		}{TypeVector, e})
	case *Group:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Group
		}{TypeGroup, e})
	case *Text:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Text
		}{TypeText, e})
	default:
		return nil, fmt.Errorf("marshal element %T: %w", el, derrors.ErrInvariant)
	}
}

// UnmarshalElement decodes a tagged element object.
func UnmarshalElement(data []byte) (Element, error) {
	tag := gjson.GetBytes(data, "type")
	if !tag.Exists() {
		return nil, fmt.Errorf("unmarshal element: missing type: %w", derrors.ErrInvalidOption)
	}

	var el Element
	switch ElementType(tag.String()) {
	case TypeRaster:
		el = &Raster{}
	case TypeVector:
		el = &Vector{}
	case TypeGroup:
		el = &Group{}
	case TypeText:
		el = &Text{}
	default:
		return nil, fmt.Errorf("unmarshal element: unknown type %q: %w", tag.String(), derrors.ErrInvalidOption)
	}

	if err := json.Unmarshal(data, el); err != nil {
		return nil, fmt.Errorf("unmarshal %s element: %w", tag.String(), err)
	}
	if el.Common().Filters == nil {
		el.Common().Filters = []Filter{}
	}
	return el, nil
}

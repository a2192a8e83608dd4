package history

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/dshills/easel/internal/codec"
	"github.com/dshills/easel/internal/document"
	derrors "github.com/dshills/easel/internal/errors"
	"github.com/dshills/easel/internal/event"
)

// fixture is a small document:
//
//	root
//	├── raster
//	├── group
//	│   └── text
//	└── vector (one blur filter, one shadow filter)
type fixture struct {
	doc    *document.Document
	raster *document.Raster
	group  *document.Group
	text   *document.Text
	vector *document.Vector
	blur   document.Filter
	shadow document.Filter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{doc: document.New("fixture", 8, 8)}
	blob := f.doc.AddBlob(document.MediaTypeRGBA, bytes.Repeat([]byte{0xff}, 2*2*4))
	f.raster = document.NewRaster("paint", 2, 2, blob)
	f.group = document.NewGroup("group")
	f.text = document.NewText("label", "hello", 1, 1)
	f.vector = document.NewVector("shape", []document.Point{{X: 0, Y: 0}, {X: 4, Y: 4}}, false)
	f.blur = document.NewFilter("blur", map[string]any{"radius": 1.0})
	f.shadow = document.NewFilter("shadow", map[string]any{"dx": 2.0})
	f.vector.Filters = []document.Filter{f.blur, f.shadow}

	for _, add := range []struct {
		el     document.Element
		parent document.Path
	}{
		{f.raster, nil},
		{f.group, nil},
		{f.text, document.Path{f.group.UID}},
		{f.vector, nil},
	} {
		if _, err := f.doc.AddLayerNode(add.el, add.parent, document.AppendIndex); err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	return f
}

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  func(f *fixture) Command
	}{
		{"add layer", func(f *fixture) Command {
			return NewAddLayerCommand(document.NewText("new", "x", 0, 0), document.Path{f.group.UID}, 0)
		}},
		{"add layer frontmost", func(f *fixture) Command {
			return NewAddLayerCommand(document.NewGroup("top"), nil, document.AppendIndex)
		}},
		{"remove layer", func(f *fixture) Command {
			return NewRemoveLayerCommand(document.Path{f.raster.UID})
		}},
		{"remove subtree", func(f *fixture) Command {
			return NewRemoveLayerCommand(document.Path{f.group.UID})
		}},
		{"move over", func(f *fixture) Command {
			return NewMoveLayerOverCommand(document.Path{f.raster.UID}, document.Path{f.vector.UID})
		}},
		{"move into", func(f *fixture) Command {
			return NewMoveLayerIntoCommand(document.Path{f.vector.UID}, document.Path{f.group.UID}, 0)
		}},
		{"move out of group", func(f *fixture) Command {
			return NewMoveLayerIntoCommand(document.Path{f.group.UID, f.text.UID}, nil, 1)
		}},
		{"update element", func(f *fixture) Command {
			return NewUpdateElementCommand(f.text.UID, "Edit text", func(el document.Element) error {
				txt := el.(*document.Text)
				txt.Content = "changed"
				txt.Opacity = 0.5
				txt.Visible = false
				return nil
			})
		}},
		{"update vector points", func(f *fixture) Command {
			return NewUpdateElementCommand(f.vector.UID, "", func(el document.Element) error {
				v := el.(*document.Vector)
				v.Points = append(v.Points, document.Point{X: 9, Y: 9})
				v.Fill = "#00ff00"
				return nil
			})
		}},
		{"update filters", func(f *fixture) Command {
			return NewUpdateFiltersCommand(f.vector.UID,
				FilterEdit{FilterUID: f.blur.UID, Mutate: func(fl *document.Filter) error {
					fl.Params["radius"] = 3.0
					return nil
				}},
				FilterEdit{FilterUID: f.shadow.UID, Mutate: func(fl *document.Filter) error {
					fl.Enabled = false
					return nil
				}},
			)
		}},
		{"add filter", func(f *fixture) Command {
			return NewAddFilterCommand(f.text.UID, document.NewFilter("glow", nil), document.AppendIndex)
		}},
		{"remove filter", func(f *fixture) Command {
			return NewRemoveFilterCommand(f.vector.UID, f.blur.UID)
		}},
		{"update meta", func(f *fixture) Command {
			return NewUpdateMetaCommand(func(m *document.Meta) error {
				m.Title = "renamed"
				m.ArtboardWidth = 640
				return nil
			})
		}},
		{"restructure", func(f *fixture) Command {
			return NewRestructureCommand("Reverse", func(root *document.Node) error {
				slices.Reverse(root.Children)
				return nil
			})
		}},
		{"update bitmap", func(f *fixture) Command {
			return NewUpdateBitmapCommand(f.raster.UID, func(prev []byte) ([]byte, error) {
				next := bytes.Clone(prev)
				next[0] = 0x10
				return next, nil
			}, nil)
		}},
		{"group", func(f *fixture) Command {
			return NewGroup("Batch",
				NewAddLayerCommand(document.NewText("a", "a", 0, 0), nil, document.AppendIndex),
				NewRemoveLayerCommand(document.Path{f.raster.UID}),
				NewMoveLayerOverCommand(document.Path{f.group.UID}, document.Path{f.vector.UID}),
			)
		}},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			doc := f.doc
			cmd := tt.cmd(f)
			before := doc.Clone()

			if err := cmd.Do(ctx, doc); err != nil {
				t.Fatalf("Do failed: %v", err)
			}
			if err := doc.Validate(); err != nil {
				t.Fatalf("document invalid after Do: %v", err)
			}
			after := doc.Clone()
			if document.Equal(before, after) {
				t.Fatal("Do did not change the document")
			}
			if len(cmd.EffectedElementUIDs()) == 0 {
				t.Error("command declares no affected elements")
			}

			for round := 0; round < 2; round++ {
				if err := cmd.Undo(ctx, doc); err != nil {
					t.Fatalf("Undo round %d failed: %v", round, err)
				}
				if !document.Equal(before, doc) {
					t.Fatalf("Undo round %d did not restore the document", round)
				}
				if err := cmd.Redo(ctx, doc); err != nil {
					t.Fatalf("Redo round %d failed: %v", round, err)
				}
				if !document.Equal(after, doc) {
					t.Fatalf("Redo round %d did not reproduce the document", round)
				}
			}
		})
	}
}

func TestUndoBeforeDo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cmds := []Command{
		NewAddLayerCommand(document.NewGroup("g"), nil, document.AppendIndex),
		NewRemoveLayerCommand(document.Path{f.raster.UID}),
		NewUpdateElementCommand(f.text.UID, "", func(document.Element) error { return nil }),
		NewUpdateBitmapCommand(f.raster.UID, nil, nil),
		NewGroup("g"),
	}
	for _, cmd := range cmds {
		if err := cmd.Undo(ctx, f.doc); !derrors.IsInvariant(err) {
			t.Errorf("%T.Undo before Do = %v, want invariant violation", cmd, err)
		}
	}
}

func TestCommandDoTwiceRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cmd := NewRemoveLayerCommand(document.Path{f.raster.UID})
	if err := cmd.Do(ctx, f.doc); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Do(ctx, f.doc); !derrors.IsInvalidOption(err) {
		t.Errorf("second Do = %v, want invalid option", err)
	}
}

func TestFailedDoLeavesDocument(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		cmd   func(f *fixture) Command
		check func(error) bool
	}{
		{"remove missing", func(f *fixture) Command {
			return NewRemoveLayerCommand(document.Path{"missing"})
		}, derrors.IsNotFound},
		{"add under text", func(f *fixture) Command {
			return NewAddLayerCommand(document.NewGroup("g"), document.Path{f.group.UID, f.text.UID}, 0)
		}, derrors.IsInvalidOption},
		{"update missing", func(f *fixture) Command {
			return NewUpdateElementCommand("missing", "", func(document.Element) error { return nil })
		}, derrors.IsNotFound},
		{"mutator changes uid", func(f *fixture) Command {
			return NewUpdateElementCommand(f.text.UID, "", func(el document.Element) error {
				el.Common().UID = "other"
				return nil
			})
		}, derrors.IsInvalidOption},
		{"filter batch rolls back", func(f *fixture) Command {
			return NewUpdateFiltersCommand(f.vector.UID,
				FilterEdit{FilterUID: f.blur.UID, Mutate: func(fl *document.Filter) error {
					fl.Kind = "sharpen"
					return nil
				}},
				FilterEdit{FilterUID: f.shadow.UID, Mutate: func(fl *document.Filter) error {
					fl.Enabled = false
					return nil
				}},
				FilterEdit{FilterUID: "missing", Mutate: func(fl *document.Filter) error { return nil }},
			)
		}, derrors.IsNotFound},
		{"remove missing filter", func(f *fixture) Command {
			return NewRemoveFilterCommand(f.vector.UID, "missing")
		}, derrors.IsNotFound},
		{"bitmap same buffer", func(f *fixture) Command {
			return NewUpdateBitmapCommand(f.raster.UID, func(prev []byte) ([]byte, error) {
				prev[0] = 0
				return prev, nil
			}, nil)
		}, derrors.IsInvalidOption},
		{"bitmap wrong size", func(f *fixture) Command {
			return NewUpdateBitmapCommand(f.raster.UID, func(prev []byte) ([]byte, error) {
				return make([]byte, 3), nil
			}, nil)
		}, derrors.IsInvalidOption},
		{"bitmap on vector", func(f *fixture) Command {
			return NewUpdateBitmapCommand(f.vector.UID, func(prev []byte) ([]byte, error) {
				return nil, nil
			}, nil)
		}, derrors.IsInvalidOption},
		{"restructure drops node", func(f *fixture) Command {
			return NewRestructureCommand("", func(root *document.Node) error {
				root.Children = root.Children[1:]
				return nil
			})
		}, derrors.IsInvalidOption},
		{"group rolls back", func(f *fixture) Command {
			return NewGroup("g",
				NewRemoveLayerCommand(document.Path{f.raster.UID}),
				NewRemoveLayerCommand(document.Path{f.raster.UID}),
			)
		}, derrors.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := tt.cmd(f)
			before := f.doc.Clone()
			err := cmd.Do(ctx, f.doc)
			if !tt.check(err) {
				t.Errorf("Do = %v", err)
			}
			if !document.Equal(before, f.doc) {
				t.Error("failed Do changed the document")
			}
		})
	}
}

// recordCommand logs its transitions.
type recordCommand struct {
	name     string
	log      *[]string
	failUndo bool
}

func (c *recordCommand) Do(ctx context.Context, doc *document.Document) error {
	*c.log = append(*c.log, c.name+".do")
	return nil
}

func (c *recordCommand) Undo(ctx context.Context, doc *document.Document) error {
	if c.failUndo {
		return errors.New("undo failed")
	}
	*c.log = append(*c.log, c.name+".undo")
	return nil
}

func (c *recordCommand) Redo(ctx context.Context, doc *document.Document) error {
	*c.log = append(*c.log, c.name+".redo")
	return nil
}

func (c *recordCommand) EffectedElementUIDs() []string { return []string{c.name} }
func (c *recordCommand) Description() string           { return c.name }

func TestGroupUndoOrder(t *testing.T) {
	ctx := context.Background()
	var log []string
	h := New(document.New("t", 1, 1))
	g := NewGroup("pair",
		&recordCommand{name: "cmd1", log: &log},
		&recordCommand{name: "cmd2", log: &log},
	)
	if err := h.Do(ctx, g); err != nil {
		t.Fatal(err)
	}
	log = nil
	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(log, []string{"cmd2.undo", "cmd1.undo"}) {
		t.Errorf("undo order = %v", log)
	}
	log = nil
	if err := h.Redo(ctx); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(log, []string{"cmd1.redo", "cmd2.redo"}) {
		t.Errorf("redo order = %v", log)
	}
}

func TestGroupAppend(t *testing.T) {
	ctx := context.Background()
	var log []string
	doc := document.New("t", 1, 1)
	g := NewGroup("g", &recordCommand{name: "a", log: &log})

	if err := g.Append(ctx, &recordCommand{name: "early", log: &log}); !derrors.IsInvalidOption(err) {
		t.Errorf("Append before Do = %v, want invalid option", err)
	}
	if err := g.Do(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := g.Append(ctx, &recordCommand{name: "b", log: &log}); err != nil {
		t.Fatalf("Append after Do: %v", err)
	}
	if !slices.Equal(log, []string{"a.do", "b.do"}) {
		t.Errorf("log = %v", log)
	}
	if got := g.EffectedElementUIDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("effected = %v", got)
	}
}

func TestHistoryTimelineFork(t *testing.T) {
	ctx := context.Background()
	var log []string
	h := New(document.New("t", 1, 1))
	a := &recordCommand{name: "A", log: &log}
	b := &recordCommand{name: "B", log: &log}
	c := &recordCommand{name: "C", log: &log}

	_ = h.Do(ctx, a)
	_ = h.Do(ctx, b)
	_ = h.Undo(ctx)
	if !h.CanRedo() {
		t.Fatal("redo should be available after undo")
	}
	_ = h.Do(ctx, c)
	if h.CanRedo() || h.RedoCount() != 0 {
		t.Error("redo stack should be empty after a new do")
	}

	log = nil
	_ = h.Undo(ctx)
	if !slices.Equal(log, []string{"C.undo"}) {
		t.Errorf("undo after fork = %v, want [C.undo]", log)
	}
}

func TestHistoryEmptyStacksAreNoop(t *testing.T) {
	h := New(document.New("t", 1, 1))
	if err := h.Undo(context.Background()); err != nil {
		t.Errorf("Undo on empty history = %v", err)
	}
	if err := h.Redo(context.Background()); err != nil {
		t.Errorf("Redo on empty history = %v", err)
	}
	if h.CanUndo() || h.CanRedo() {
		t.Error("empty history reports available entries")
	}
}

func TestHistoryFailedUndoKeepsStacks(t *testing.T) {
	ctx := context.Background()
	var log []string
	h := New(document.New("t", 1, 1))
	_ = h.Do(ctx, &recordCommand{name: "bad", log: &log, failUndo: true})

	if err := h.Undo(ctx); err == nil {
		t.Fatal("expected undo error")
	}
	if h.UndoCount() != 1 || h.RedoCount() != 0 {
		t.Errorf("stacks = %d/%d, want 1/0", h.UndoCount(), h.RedoCount())
	}
}

func TestHistoryMaxEntries(t *testing.T) {
	ctx := context.Background()
	var log []string
	h := New(document.New("t", 1, 1), WithMaxEntries(3))
	for _, name := range []string{"1", "2", "3", "4", "5"} {
		_ = h.Do(ctx, &recordCommand{name: name, log: &log})
	}
	if h.UndoCount() != 3 {
		t.Errorf("UndoCount = %d, want 3", h.UndoCount())
	}
	info := h.UndoInfo()
	if info[0].Description != "3" || info[2].Description != "5" {
		t.Errorf("kept %v, want 3..5", info)
	}

	h.SetMaxEntries(1)
	if p, ok := h.PeekUndo(); !ok || p.Description != "5" || h.UndoCount() != 1 {
		t.Errorf("after SetMaxEntries: %v %v", p, h.UndoCount())
	}
}

func TestHistoryEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bus := event.NewBus()

	var mu sync.Mutex
	var affects []event.HistoryAffect
	var layers []string
	_, _ = bus.Subscribe(event.TopicHistoryAffect, event.AsHandler(func(ctx context.Context, e event.Event[event.HistoryAffect]) error {
		mu.Lock()
		defer mu.Unlock()
		affects = append(affects, e.Payload)
		return nil
	}))
	_, _ = bus.Subscribe(event.TopicLayerUpdated, event.AsHandler(func(ctx context.Context, e event.Event[event.LayerUpdated]) error {
		mu.Lock()
		defer mu.Unlock()
		layers = append(layers, e.Payload.ElementUID)
		return nil
	}))
	_, _ = bus.SubscribeFunc("history.**", func(ctx context.Context, ev any) error {
		return errors.New("subscriber failure must not fail the transition")
	})

	h := New(f.doc, WithPublisher(bus))
	if err := h.Do(ctx, NewRemoveLayerCommand(document.Path{f.group.UID})); err != nil {
		t.Fatal(err)
	}
	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Redo(ctx); err != nil {
		t.Fatal(err)
	}

	want := []event.Transition{event.TransitionDo, event.TransitionUndo, event.TransitionRedo}
	if len(affects) != len(want) {
		t.Fatalf("got %d affect events, want %d", len(affects), len(want))
	}
	for i, a := range affects {
		if a.Transition != want[i] {
			t.Errorf("event %d transition = %s, want %s", i, a.Transition, want[i])
		}
		if !slices.Equal(a.ElementUIDs, []string{f.group.UID, f.text.UID}) {
			t.Errorf("event %d uids = %v", i, a.ElementUIDs)
		}
	}
	if len(layers) != 6 {
		t.Errorf("got %d layer events, want 6", len(layers))
	}
}

func TestHistoryGrouping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := New(f.doc)
	before := f.doc.Clone()

	h.BeginGroup("Two edits")
	_ = h.Do(ctx, NewRemoveLayerCommand(document.Path{f.raster.UID}))
	_ = h.Do(ctx, NewMoveLayerOverCommand(document.Path{f.group.UID}, document.Path{f.vector.UID}))
	if err := h.Undo(ctx); !derrors.IsInvalidOption(err) {
		t.Errorf("Undo inside group = %v, want invalid option", err)
	}
	h.EndGroup()

	if h.UndoCount() != 1 {
		t.Fatalf("UndoCount = %d, want 1", h.UndoCount())
	}
	if p, _ := h.PeekUndo(); p.Description != "Two edits" {
		t.Errorf("description = %q", p.Description)
	}
	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if !document.Equal(before, f.doc) {
		t.Error("group undo did not restore the document")
	}
}

func TestHistoryTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := New(f.doc)
	before := f.doc.Clone()
	boom := errors.New("boom")

	err := h.Transaction(ctx, "Failing", func() error {
		if err := h.Do(ctx, NewRemoveLayerCommand(document.Path{f.raster.UID})); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction = %v, want boom", err)
	}
	if h.CanUndo() || h.IsGrouping() {
		t.Error("failed transaction left history entries")
	}
	if !document.Equal(before, f.doc) {
		t.Error("failed transaction left changes in the document")
	}

	err = h.Transaction(ctx, "Working", func() error {
		return h.Do(ctx, NewRemoveLayerCommand(document.Path{f.raster.UID}))
	})
	if err != nil || h.UndoCount() != 1 {
		t.Errorf("Transaction = %v, UndoCount = %d", err, h.UndoCount())
	}
}

func TestHistoryCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := New(f.doc)
	before := f.doc.Clone()
	cp := h.CreateCheckpoint()

	_ = h.Do(ctx, NewRemoveLayerCommand(document.Path{f.raster.UID}))
	_ = h.Do(ctx, NewAddLayerCommand(document.NewGroup("g"), nil, document.AppendIndex))
	if err := h.UndoToCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if !document.Equal(before, f.doc) {
		t.Error("UndoToCheckpoint did not restore the document")
	}
}

func TestBitmapCompaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, err := codec.New(codec.DefaultLevel)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var scheduled []Compactor
	h := New(f.doc, WithCompactScheduler(func(cmp Compactor) { scheduled = append(scheduled, cmp) }))

	blob, _ := f.doc.Blob(f.raster.BlobUID)
	original := bytes.Clone(blob.Data)
	cmd := NewUpdateBitmapCommand(f.raster.UID, func(prev []byte) ([]byte, error) {
		return make([]byte, len(prev)), nil
	}, c)
	if err := h.Do(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled %d compactions, want 1", len(scheduled))
	}
	if err := scheduled[0].Compact(ctx); err != nil {
		t.Fatal(err)
	}

	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	blob, _ = f.doc.Blob(f.raster.BlobUID)
	if !bytes.Equal(blob.Data, original) {
		t.Error("undo after compaction did not restore pixels")
	}
	if err := h.Redo(ctx); err != nil {
		t.Fatal(err)
	}
	blob, _ = f.doc.Blob(f.raster.BlobUID)
	if !bytes.Equal(blob.Data, make([]byte, len(original))) {
		t.Error("redo did not restore the new pixels")
	}
}

func TestBitmapUpdaterCannotTouchUndoState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.doc.Clone()

	cmd := NewUpdateBitmapCommand(f.raster.UID, func(prev []byte) ([]byte, error) {
		prev[0] = 0x10
		return bytes.Clone(prev), nil
	}, nil)
	if err := cmd.Do(ctx, f.doc); err != nil {
		t.Fatal(err)
	}
	blob, _ := f.doc.Blob(f.raster.BlobUID)
	if blob.Data[0] != 0x10 {
		t.Fatalf("first byte after Do = %#x, want 0x10", blob.Data[0])
	}

	if err := cmd.Undo(ctx, f.doc); err != nil {
		t.Fatal(err)
	}
	if !document.Equal(before, f.doc) {
		blob, _ = f.doc.Blob(f.raster.BlobUID)
		t.Errorf("undo did not restore the document; first byte = %#x, want 0xff", blob.Data[0])
	}
}

func TestUpdateFiltersReportsFailedRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	boom := errors.New("boom")

	cmd := NewUpdateFiltersCommand(f.vector.UID,
		FilterEdit{FilterUID: f.blur.UID, Mutate: func(fl *document.Filter) error {
			fl.Kind = "sharpen"
			return nil
		}},
		FilterEdit{FilterUID: f.shadow.UID, Mutate: func(fl *document.Filter) error {
			// Change the live element behind the command's back so the
			// first edit no longer reverts cleanly.
			el, err := f.doc.Element(f.vector.UID)
			if err != nil {
				return err
			}
			ce, err := document.CloneElement(el)
			if err != nil {
				return err
			}
			ce.Common().Filters[0].Kind = "emboss"
			if err := f.doc.ReplaceElement(ce); err != nil {
				return err
			}
			return boom
		}},
	)

	err := cmd.Do(ctx, f.doc)
	if !errors.Is(err, boom) {
		t.Errorf("Do = %v, want the edit error", err)
	}
	if !derrors.IsInvariant(err) {
		t.Errorf("Do = %v, want the rollback failure joined in", err)
	}
}

// Package patch computes and applies reversible structural diffs between two
// JSON snapshots of the same nested value.
//
// A Patch is an ordered list of leaf operations. Each operation records the
// value it expects at its path before applying (Old) and the value it leaves
// there (New); a nil Old or New means the key is absent. Apply replays the
// operations forward and Revert replays them backward with Old and New
// exchanged, so Revert(Apply(x, p), p) == x.
//
// Objects are diffed key by key. Arrays of equal length are diffed element
// by element; any other array change replaces the whole array.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	derrors "github.com/dshills/easel/internal/errors"
)

// Op is one leaf change.
type Op struct {
	Path []string        `json:"path"`
	Old  json.RawMessage `json:"old,omitempty"`
	New  json.RawMessage `json:"new,omitempty"`
}

// Patch is an ordered list of operations.
type Patch struct {
	Ops []Op `json:"ops"`
}

// Empty returns true if the patch changes nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Ops) == 0
}

// Len returns the number of operations.
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Ops)
}

// Inverse returns the patch that undoes p.
func (p *Patch) Inverse() *Patch {
	inv := &Patch{Ops: make([]Op, len(p.Ops))}
	for i, op := range p.Ops {
		inv.Ops[len(p.Ops)-1-i] = Op{Path: op.Path, Old: op.New, New: op.Old}
	}
	return inv
}

// Size returns the total payload bytes held by the patch.
func (p *Patch) Size() int {
	n := 0
	for _, op := range p.Ops {
		n += len(op.Old) + len(op.New)
	}
	return n
}

// Diff computes the patch transforming before into after. Both inputs must
// be valid JSON.
func Diff(before, after []byte) (*Patch, error) {
	if !gjson.ValidBytes(before) {
		return nil, fmt.Errorf("diff: invalid before document: %w", derrors.ErrInvalidOption)
	}
	if !gjson.ValidBytes(after) {
		return nil, fmt.Errorf("diff: invalid after document: %w", derrors.ErrInvalidOption)
	}
	p := &Patch{}
	diffValue(p, nil, gjson.ParseBytes(before), gjson.ParseBytes(after))
	return p, nil
}

// DiffValues marshals before and after and diffs the results.
func DiffValues(before, after any) (*Patch, error) {
	b, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	a, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return Diff(b, a)
}

func diffValue(p *Patch, path []string, a, b gjson.Result) {
	switch {
	case a.IsObject() && b.IsObject():
		bm := members(b)
		seen := make(map[string]bool, len(bm))
		a.ForEach(func(k, av gjson.Result) bool {
			key := k.String()
			seen[key] = true
			bv, ok := bm[key]
			if !ok {
				p.add(child(path, key), raw(av), nil)
				return true
			}
			diffValue(p, child(path, key), av, bv)
			return true
		})
		b.ForEach(func(k, bv gjson.Result) bool {
			if key := k.String(); !seen[key] {
				p.add(child(path, key), nil, raw(bv))
			}
			return true
		})
	case a.IsArray() && b.IsArray():
		aa, ba := a.Array(), b.Array()
		if len(aa) != len(ba) {
			if !sameRaw(a.Raw, b.Raw) {
				p.add(path, raw(a), raw(b))
			}
			return
		}
		for i := range aa {
			diffValue(p, child(path, strconv.Itoa(i)), aa[i], ba[i])
		}
	default:
		if !sameRaw(a.Raw, b.Raw) {
			p.add(path, raw(a), raw(b))
		}
	}
}

func (p *Patch) add(path []string, prev, next json.RawMessage) {
	p.Ops = append(p.Ops, Op{Path: path, Old: prev, New: next})
}

// Apply replays p on doc and returns the result. Every operation checks the
// current value against its recorded Old value first; a mismatch means doc
// is not the state p was computed from and fails with ErrInvariant.
func Apply(doc []byte, p *Patch) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("apply: nil patch: %w", derrors.ErrInvariant)
	}
	out := doc
	for i, op := range p.Ops {
		var err error
		out, err = step(out, op.Path, op.Old, op.New)
		if err != nil {
			return nil, fmt.Errorf("apply op %d: %w", i, err)
		}
	}
	return out, nil
}

// Revert undoes p on doc, which must be the output of Apply.
func Revert(doc []byte, p *Patch) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("revert: nil patch: %w", derrors.ErrInvariant)
	}
	out := doc
	for i := len(p.Ops) - 1; i >= 0; i-- {
		op := p.Ops[i]
		var err error
		out, err = step(out, op.Path, op.New, op.Old)
		if err != nil {
			return nil, fmt.Errorf("revert op %d: %w", i, err)
		}
	}
	return out, nil
}

func step(doc []byte, path []string, expect, value json.RawMessage) ([]byte, error) {
	cur, ok := lookup(doc, path)
	switch {
	case expect == nil && ok:
		return nil, fmt.Errorf("/%s: unexpected value: %w", strings.Join(path, "/"), derrors.ErrInvariant)
	case expect != nil && !ok:
		return nil, fmt.Errorf("/%s: value missing: %w", strings.Join(path, "/"), derrors.ErrInvariant)
	case expect != nil && !sameRaw(cur.Raw, string(expect)):
		return nil, fmt.Errorf("/%s: value diverged: %w", strings.Join(path, "/"), derrors.ErrInvariant)
	}

	if len(path) == 0 {
		if value == nil {
			return nil, fmt.Errorf("cannot delete the root value: %w", derrors.ErrInvariant)
		}
		return append([]byte(nil), value...), nil
	}

	sp := escapePath(path)
	if value == nil {
		return sjson.DeleteBytes(doc, sp)
	}
	return sjson.SetRawBytes(doc, sp, value)
}

// lookup resolves path without gjson path syntax so keys may contain any
// character.
func lookup(doc []byte, path []string) (gjson.Result, bool) {
	r := gjson.ParseBytes(doc)
	for _, key := range path {
		switch {
		case r.IsObject():
			next, ok := members(r)[key]
			if !ok {
				return gjson.Result{}, false
			}
			r = next
		case r.IsArray():
			i, err := strconv.Atoi(key)
			arr := r.Array()
			if err != nil || i < 0 || i >= len(arr) {
				return gjson.Result{}, false
			}
			r = arr[i]
		default:
			return gjson.Result{}, false
		}
	}
	return r, r.Exists()
}

func members(r gjson.Result) map[string]gjson.Result {
	m := make(map[string]gjson.Result)
	r.ForEach(func(k, v gjson.Result) bool {
		m[k.String()] = v
		return true
	})
	return m
}

func child(path []string, key string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, key)
}

func raw(r gjson.Result) json.RawMessage {
	return json.RawMessage(r.Raw)
}

func sameRaw(a, b string) bool {
	if a == b {
		return true
	}
	var ab, bb bytes.Buffer
	if json.Compact(&ab, []byte(a)) != nil || json.Compact(&bb, []byte(b)) != nil {
		return false
	}
	return bytes.Equal(ab.Bytes(), bb.Bytes())
}

// escapePath joins path into sjson syntax, escaping path metacharacters.
func escapePath(path []string) string {
	var sb strings.Builder
	for i, key := range path {
		if i > 0 {
			sb.WriteByte('.')
		}
		for _, r := range key {
			switch r {
			case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', ':':
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

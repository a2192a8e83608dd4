package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a config file syntax.
type Format int

// Supported formats.
const (
	FormatTOML Format = iota + 1
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatOf maps a file extension to a format: .toml, .yaml or .yml.
func FormatOf(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("unsupported config format %q", ext)
}

// Parse decodes data. source names the data in errors. An empty document
// decodes to an empty map.
func (f Format) Parse(source string, data []byte) (map[string]any, error) {
	out := map[string]any{}
	var err error
	switch f {
	case FormatTOML:
		err = toml.Unmarshal(data, &out)
	case FormatYAML:
		err = yaml.Unmarshal(data, &out)
	default:
		return nil, fmt.Errorf("parse %s: unknown %s", source, f)
	}
	if err != nil {
		return nil, newParseError(source, f, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ParseError is a syntax or type error in a config file. Line and Column
// are 1-based and zero when the decoder did not report a position.
type ParseError struct {
	Source string
	Format Format
	Line   int
	Column int
	Err    error
}

func newParseError(source string, f Format, err error) *ParseError {
	pe := &ParseError{Source: source, Format: f, Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		pe.Line, pe.Column = derr.Position()
	}
	return pe
}

func (e *ParseError) Error() string {
	msg := e.Err.Error()
	var terr *yaml.TypeError
	if errors.As(e.Err, &terr) && len(terr.Errors) > 0 {
		msg = strings.Join(terr.Errors, "; ")
	}
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Source, msg)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

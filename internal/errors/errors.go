// Package errors defines the error taxonomy shared by the document core.
//
// Errors fall into four classes:
//   - NotFound: a referenced element, node or filter does not exist where expected.
//     The operation aborted without touching the document.
//   - InvalidOption: the caller supplied a semantically wrong argument.
//   - Invariant: internal consistency is broken. Treat as a programming error.
//   - Aborted: expected cancellation. Only the top-level render caller swallows it.
package errors

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors. Match with errors.Is or the Is* helpers below.
var (
	// ErrNotFound indicates a uid or path did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOption indicates a semantically wrong argument or call order.
	ErrInvalidOption = errors.New("invalid option or state")

	// ErrInvariant indicates broken internal consistency.
	ErrInvariant = errors.New("invariant violation")

	// ErrAborted indicates an operation observed cancellation.
	ErrAborted = errors.New("aborted")

	// ErrLockMisuse indicates a resource lock was released incorrectly.
	ErrLockMisuse = &classError{msg: "resource lock misuse", class: ErrInvariant}

	// ErrDropped indicates a queued task was evicted before it ran.
	ErrDropped = &classError{msg: "task dropped", class: ErrAborted}
)

// classError is a sentinel that also matches its parent class.
type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }

// Is reports whether target is this error's class.
func (e *classError) Is(target error) bool {
	return target == e.class
}

// PathError records a failed operation on a tree path.
type PathError struct {
	Op   string   // Operation name (e.g. "remove", "move")
	Path []string // Node path from the root
	Err  error    // Underlying error
}

// NewPathError creates a new PathError. The path is copied.
func NewPathError(op string, path []string, err error) *PathError {
	p := make([]string, len(path))
	copy(p, path)
	return &PathError{Op: op, Path: p, Err: err}
}

func (e *PathError) Error() string {
	return e.Op + " /" + strings.Join(e.Path, "/") + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// ElementError records a failed operation on an element.
type ElementError struct {
	Op  string
	UID string
	Err error
}

// NewElementError creates a new ElementError.
func NewElementError(op, uid string, err error) *ElementError {
	return &ElementError{Op: op, UID: uid, Err: err}
}

func (e *ElementError) Error() string {
	if e.UID == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " element " + e.UID + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ElementError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidOption returns true if err is or wraps ErrInvalidOption.
func IsInvalidOption(err error) bool {
	return errors.Is(err, ErrInvalidOption)
}

// IsInvariant returns true if err is or wraps ErrInvariant.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// IsIgnorable returns true for expected cancellation: aborted renders,
// dropped queue entries and cancelled contexts.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// Recoverable returns true if the caller may report the error and retry.
// Invariant violations and lock misuse are not recoverable in place.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	return !IsInvariant(err)
}

package app

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session closed")

	// ErrNoStore indicates an operation needs a document store and none is configured.
	ErrNoStore = errors.New("no document store")
)

// InitError represents a failure to initialize a session component.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending setting.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

// Is reports ErrInvalidConfig so callers can match the class.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

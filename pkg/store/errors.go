package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a project, event, or conversation id does
	// not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a create collides with an existing row,
	// such as a duplicate project path.
	ErrConflict = errors.New("entity already exists")

	// ErrInvalid is returned for malformed input: unknown event kinds,
	// empty required fields, bad pagination bounds.
	ErrInvalid = errors.New("invalid input")
)

// invalidf wraps ErrInvalid with a description of the offending field.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a description of the missing entity.
// Exported for service-layer lookups that miss on derived state.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

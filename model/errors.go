package model

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid entity")

// ValidationError reports an entity whose attributes violate a model
// invariant. Field names the offending attribute and Reason the invariant.
type ValidationError struct {
	Kind   Kind
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s %s: %s", ErrValidation, e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q %s: %s", ErrValidation, e.Kind, e.ID, e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(kind Kind, id, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, ID: id, Field: field, Reason: reason}
}

package crud

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateEntityType is returned when a type is registered twice.
	ErrDuplicateEntityType = errors.New("crud: duplicate entity type")
	// ErrUnknownEntityType is returned for lookups of unregistered types.
	ErrUnknownEntityType = errors.New("crud: unknown entity type")
	// ErrInvalidConfig reports a malformed entity configuration or rule.
	ErrInvalidConfig = errors.New("crud: invalid entity config")
	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("crud: registry sealed")
	// ErrValidation is matched by ValidationError.
	ErrValidation = errors.New("crud: validation failed")
)

// FieldErrors maps a field key (dotted for translatable fields) to the failed rule tag.
type FieldErrors map[string]string

// ValidationError carries per-field failures.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%s)", k, e.Fields[k]))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

package entity

import (
	"strings"

	domainerrors "geoquery/internal/domain/errors"
)

// MaxKeyLength is the longest key the location index accepts, in bytes.
const MaxKeyLength = 755

// ValidateKey checks that key is usable as an index key. Keys are path
// segments in the replicated store, so the path separators are rejected.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return domainerrors.NewValidationError("key", "must not be empty")
	case len(key) > MaxKeyLength:
		return domainerrors.NewValidationError("key", "must not exceed 755 bytes")
	case strings.ContainsAny(key, ".#$[]/"):
		return domainerrors.NewValidationError("key", "must not contain any of . # $ [ ] /")
	}

	return nil
}

// Package driveid provides a typed drive identifier for Graph API drives.
// Graph returns the same drive ID with inconsistent casing across
// endpoints, and Personal accounts sometimes drop a leading zero, so raw
// string comparison is not a reliable way to decide whether two references
// point at the same drive. Scope and cursor binding checks go through
// Equal instead.
//
// This is a leaf package with zero external dependencies beyond stdlib.
package driveid

import (
	"encoding"
	"fmt"
	"strings"
)

// idMinLength is the minimum length for a normalized drive ID. Personal
// accounts sometimes return 15-character IDs (documented API bug); we
// zero-pad to this length for comparisons.
const idMinLength = 16

// ID is a Graph API drive identifier. It keeps the raw value for use in
// request URLs (business drive IDs are base64 and case-sensitive on the
// wire) and compares on the normalized form.
// The zero value (ID{}) represents an absent drive ID.
type ID struct {
	raw string
}

// New wraps a raw API drive identifier. Surrounding whitespace is trimmed.
func New(raw string) ID {
	return ID{raw: strings.TrimSpace(raw)}
}

// String returns the raw drive ID for use in URLs.
func (id ID) String() string {
	return id.raw
}

// Normalized returns the comparison form: lowercase, zero-padded to at
// least 16 characters.
func (id ID) Normalized() string {
	if id.raw == "" {
		return ""
	}

	lower := strings.ToLower(id.raw)
	if len(lower) >= idMinLength {
		return lower
	}

	return strings.Repeat("0", idMinLength-len(lower)) + lower
}

// IsZero reports whether this is the zero-value ID (empty or all zeros).
func (id ID) IsZero() bool {
	n := id.Normalized()
	return n == "" || n == strings.Repeat("0", idMinLength)
}

// Equal reports whether two IDs refer to the same drive.
func (id ID) Equal(other ID) bool {
	if id.IsZero() || other.IsZero() {
		return id.IsZero() && other.IsZero()
	}

	return id.Normalized() == other.Normalized()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	*id = New(string(text))
	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
)

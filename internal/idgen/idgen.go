// Package idgen produces time-ordered 128-bit message identifiers.
package idgen

import "github.com/google/uuid"

// New returns a UUIDv7 identifier: 48 bits of millisecond UTC timestamp,
// followed by the version/variant bits and 74 bits of random tail. The
// text form is the canonical 8-4-4-4-12 hex grouping. Values generated
// within the same process are monotone; the scheme is not required to be
// globally unique — callers regenerate on the rare primary-key collision.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

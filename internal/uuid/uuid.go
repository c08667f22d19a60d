// Package uuid provides UUID v4 generation and validation for record,
// session, and queue-item identifiers.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx with variant bits [89ab].
var v4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4 string.
func New() string {
	return uuid.New().String()
}

// IsValid reports whether s is a well-formed UUID v4.
func IsValid(s string) bool {
	return v4Pattern.MatchString(s)
}

// Validate returns an error if s is not a well-formed UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}

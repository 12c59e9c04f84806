package report

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidReference marks a cadastral reference that fails validation
// before any external call is made. Never billed.
var ErrInvalidReference = errors.New("invalid cadastral reference")

// A full cadastral reference is 20 alphanumeric characters. The first two
// encode the delegation, the next three the municipality.
var referencePattern = regexp.MustCompile(`^[0-9A-Z]{20}$`)

// NormalizeReference strips spaces, uppercases and validates a raw
// cadastral reference.
func NormalizeReference(raw string) (string, error) {
	ref := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if !referencePattern.MatchString(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return ref, nil
}

// ReferenceCodes extracts the delegation and municipality codes from a
// normalized reference.
func ReferenceCodes(ref string) (delegation, municipality string) {
	if len(ref) < 5 {
		return "", ""
	}
	return ref[:2], ref[2:5]
}

package lookup

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier indicates a vehicle registration number that does not match the expected format.
var ErrInvalidIdentifier = errors.New("invalid vehicle identifier")

var identifierPattern = regexp.MustCompile(`^[A-Z]{2}\d{1,2}[A-Z]{0,3}\d{3,4}$`)

// NormalizeIdentifier trims and upper-cases raw and requires a full match, e.g. UP65CM9494.
func NormalizeIdentifier(raw string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !identifierPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return normalized, nil
}

// Package sanitize strips markup from free-text fields before they are stored.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// maxPasses bounds the sanitize/unescape loop for deeply entity-encoded input.
const maxPasses = 8

// PlainText removes every HTML element from s and trims surrounding space.
// Entities are decoded so "a & b" survives intact, and the result is
// sanitized again until stable so encoded tags such as "&lt;b&gt;" cannot
// come back as markup. Input that does not settle within maxPasses is
// returned in its escaped form.
func PlainText(s string) string {
	for i := 0; i < maxPasses; i++ {
		clean := strict.Sanitize(s)
		decoded := html.UnescapeString(clean)
		if decoded == s {
			return strings.TrimSpace(decoded)
		}
		s = decoded
	}
	return strings.TrimSpace(strict.Sanitize(s))
}

// OptionalPlainText applies PlainText to a non-nil value. A value that is
// empty after sanitising becomes nil.
func OptionalPlainText(s *string) *string {
	if s == nil {
		return nil
	}
	clean := PlainText(*s)
	if clean == "" {
		return nil
	}
	return &clean
}

package policy

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns before text is persisted.
// Full-width ASCII (common in Japanese input) is matched through its folded
// form; when nothing matches the input is returned untouched.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	if hasFullwidth(out) {
		out = width.Fold.String(out)
	}

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones so long digit runs are classified as cards.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	if !changed {
		return input, false
	}
	return out, true
}

func hasFullwidth(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return width.LookupRune(r).Kind() == width.EastAsianFullwidth
	}) >= 0
}

package ident

import (
	"regexp"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonASCII = runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })

// asciiFold returns a fresh folding transformer. Chains keep state between
// calls and must not be shared across goroutines.
func asciiFold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(nonASCII))
}

var (
	unsafeRe     = regexp.MustCompile(`[^A-Za-z0-9_\-./]`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// SanitizeFilename folds a document name to the ASCII subset accepted by the
// object store: accents are stripped, anything outside [A-Za-z0-9_-./]
// becomes '_' and runs of '_' collapse.
func SanitizeFilename(name string) string {
	folded, _, err := transform.String(asciiFold(), name)
	if err != nil {
		folded = name
	}
	folded = unsafeRe.ReplaceAllString(folded, "_")
	return underscoreRe.ReplaceAllString(folded, "_")
}

// ForAttachment identifies a stored document by its sanitized path.
func ForAttachment(path string) string {
	return ForName("attachment", SanitizeFilename(path))
}

// Package mapping decides which backend field each spreadsheet header feeds
// and builds the bulk-import request body.
//
// A Mapping is keyed by file header; the value is the backend field name, or
// empty when the header is not imported. Mappings come from a saved Profile
// or from AutoMap, which scores every header against every backend field.
package mapping

import (
	"strings"
	"unicode"
)

// Norm folds a header or field name for comparison: trimmed, lower-cased,
// zero-width non-joiners removed and whitespace runs replaced by "_".
// Persian headers commonly carry a ZWNJ between word parts.
func Norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		switch {
		case r == '\u200c':
			continue
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Levenshtein returns the edit distance between the normalized forms of a
// and b, counted in runes.
func Levenshtein(a, b string) int {
	ra := []rune(Norm(a))
	rb := []rune(Norm(b))

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

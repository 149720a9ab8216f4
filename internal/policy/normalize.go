package policy

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility forms (full-width punctuation, the single
// ellipsis rune) and letter case so vocabulary matching is insensitive to both.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(s))
}

func normalizeAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

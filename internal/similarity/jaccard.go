// Package similarity scores how closely a transcript matches an expected
// answer.
package similarity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Jaccard returns |A∩B| / |A∪B| over the distinct lower-cased
// whitespace-separated tokens of a and b. It is 0 when either side has no
// tokens, symmetric, and 1 for token-set-equal inputs.
func Jaccard(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// Normalize lower-cases s and collapses runs of whitespace to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(lower(s)), " ")
}

func tokens(s string) map[string]struct{} {
	fields := strings.Fields(lower(s))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// cases.Caser is stateful, so each call gets its own.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

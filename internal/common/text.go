package common

import (
	"regexp"
	"strings"
)

var wordTokenRe = regexp.MustCompile(`[a-z0-9]+`)

// TokenSet returns the set of lowercase alphanumeric tokens in the text.
func TokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range wordTokenRe.FindAllString(strings.ToLower(text), -1) {
		set[tok] = true
	}
	return set
}

// Jaccard computes token-set overlap between two texts in [0,1]. Used to
// decide whether two chunks are near-duplicate coverage of the same rule.
func Jaccard(a, b string) float64 {
	sa := TokenSet(a)
	sb := TokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range sa {
		if sb[tok] {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

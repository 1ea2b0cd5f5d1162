package resolver

import (
	"strings"
	"unicode"
)

// Edit costs. Inserting characters the mention omitted is cheaper than
// deleting or substituting ones it typed, so abbreviations ("ctrl") stay
// close to their expansions ("controller").
const (
	insertCost     = 0.5
	deleteCost     = 1.0
	substituteCost = 1.0
)

// normalize lowercases s and keeps only letters and digits.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fold lowercases s and collapses whitespace.
func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// editDistance is the weighted cost of turning mention into candidate.
func editDistance(mention, candidate string) float64 {
	m := []rune(mention)
	c := []rune(candidate)

	prev := make([]float64, len(c)+1)
	curr := make([]float64, len(c)+1)
	for j := range prev {
		prev[j] = float64(j) * insertCost
	}
	for i := 1; i <= len(m); i++ {
		curr[0] = float64(i) * deleteCost
		for j := 1; j <= len(c); j++ {
			sub := prev[j-1]
			if m[i-1] != c[j-1] {
				sub += substituteCost
			}
			curr[j] = min(prev[j]+deleteCost, curr[j-1]+insertCost, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(c)]
}

// similarity maps the normalized distance into a [0,1] score; 1 is identical.
func similarity(mention, candidate string) float64 {
	longest := max(len([]rune(mention)), len([]rune(candidate)))
	if longest == 0 {
		return 0
	}
	score := 1 - editDistance(mention, candidate)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

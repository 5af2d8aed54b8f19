package institution

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// TokenSetRatio scores how much the whitespace tokens of a and b overlap,
// on a 0-100 scale, ignoring token order and repetition. Either side being
// empty scores 0. When one token set contains the other the score is 100.
// Otherwise the sorted intersection and differences are compared with a
// normalized insertion/deletion distance and the best pairing wins.
func TokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var sect, diffAB, diffBA []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			sect = append(sect, tok)
		} else {
			diffAB = append(diffAB, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			diffBA = append(diffBA, tok)
		}
	}
	if len(sect) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	abJoined, baJoined := joinSorted(diffAB), joinSorted(diffBA)
	abLen, baLen := utf8.RuneCountInString(abJoined), utf8.RuneCountInString(baJoined)
	sectLen := utf8.RuneCountInString(strings.Join(sect, " "))

	sep := 0
	if sectLen > 0 {
		sep = 1
	}
	sectABLen := sectLen + sep + abLen
	sectBALen := sectLen + sep + baLen

	best := normalizedSimilarity(indelDistance(abJoined, baJoined), sectABLen+sectBALen)
	if sectLen == 0 {
		return best
	}

	// The intersection string is a prefix of both sect+diff strings, so
	// their distance to it is just the length of the appended difference.
	if r := normalizedSimilarity(sep+abLen, sectLen+sectABLen); r > best {
		best = r
	}
	if r := normalizedSimilarity(sep+baLen, sectLen+sectBALen); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func joinSorted(tokens []string) string {
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func normalizedSimilarity(dist, lenSum int) float64 {
	if lenSum == 0 {
		return 100
	}
	return 100 - 100*float64(dist)/float64(lenSum)
}

// indelDistance is the number of single-rune insertions and deletions
// turning a into b: len(a)+len(b)-2*LCS(a,b).
func indelDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return len(ra) + len(rb) - 2*prev[len(rb)]
}

package diag

import "fmt"

// Suggest returns a "Did you mean" hint for the closest candidate, or an
// empty string when nothing is close enough.
func Suggest(input string, candidates []string) string {
	best := ""
	bestDist := 1 << 30
	for _, c := range candidates {
		d := levenshtein(input, c)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := 3
	if len(input) <= 4 {
		limit = 2
	}
	if best == "" || bestDist > limit {
		return ""
	}
	return fmt.Sprintf("Did you mean '%s'?", best)
}

func levenshtein(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

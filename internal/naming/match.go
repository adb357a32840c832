package naming

import "strings"

// MatchThreshold is the share of a candidate's characters that must appear,
// in order, in the label.
const MatchThreshold = 0.8

// IsMatch reports whether candidate is a plausible short form of label.
// Both are reduced to lowercase ASCII letters and digits; the candidate is
// then walked as a subsequence of the label.
func IsMatch(candidate, label string) bool {
	return matchScore(candidate, label) >= MatchThreshold
}

func matchScore(candidate, label string) float64 {
	cand := normalize(candidate)
	if len(cand) == 0 {
		return 0
	}
	norm := normalize(label)

	idx := 0
	for i := 0; i < len(norm) && idx < len(cand); i++ {
		if norm[i] == cand[idx] {
			idx++
		}
	}
	return float64(idx) / float64(len(cand))
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

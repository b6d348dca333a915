package search

import (
	"strings"
	"unicode/utf8"
)

const (
	// minTermLen: query terms this short or shorter carry no signal.
	minTermLen = 2
	// proximityWindow is the max distance in characters between two term
	// occurrences that still earns the proximity bonus.
	proximityWindow = 50
	// shortContentLen: texts below this many characters are penalised.
	shortContentLen = 100
)

// Score rates how relevant text is to query, in [0, 1].
//
// The formula is additive: a verbatim phrase match contributes 0.4, the
// fraction of distinct query terms found contributes up to 0.4, and every
// pair of terms whose first occurrences sit within 50 characters of each
// other adds 0.1. Texts under 100 characters are discounted by 20%.
func Score(text, query string) float64 {
	if text == "" || query == "" {
		return 0
	}

	textLower := strings.ToLower(text)
	queryLower := strings.ToLower(query)

	terms := queryTerms(queryLower)
	if len(terms) == 0 {
		// nothing to match against, neither relevant nor irrelevant
		return 0.5
	}

	var score float64
	if strings.Contains(textLower, queryLower) {
		score += 0.4
	}

	positions := make([]int, len(terms))
	matched := 0
	for i, term := range terms {
		positions[i] = runeIndex(textLower, term)
		if positions[i] >= 0 {
			matched++
		}
	}
	score += 0.4 * float64(matched) / float64(len(terms))

	for i := 0; i < len(terms); i++ {
		if positions[i] < 0 {
			continue
		}
		for j := i + 1; j < len(terms); j++ {
			if positions[j] < 0 {
				continue
			}
			if abs(positions[i]-positions[j]) < proximityWindow {
				score += 0.1
			}
		}
	}

	if utf8.RuneCountInString(text) < shortContentLen {
		score *= 0.8
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// queryTerms splits the lowercased query into distinct terms longer than two
// characters, preserving first-seen order.
func queryTerms(queryLower string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, term := range strings.Fields(queryLower) {
		if len(term) <= minTermLen {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// runeIndex returns the character index of the first occurrence of substr in
// s, or -1. Byte offsets would skew the proximity window on multi-byte text.
func runeIndex(s, substr string) int {
	idx := strings.Index(s, substr)
	if idx < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:idx])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

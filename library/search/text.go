package search

import "unicode/utf8"

// Snippet truncates s to at most max characters, appending an ellipsis when
// content was dropped. Providers use it to keep stored content bounded.
func Snippet(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	return string(runes[:max]) + "..."
}

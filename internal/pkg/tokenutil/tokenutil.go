package tokenutil

import "unicode/utf8"

// CharsPerToken is the rough English ratio used for every budget in the pipeline.
const CharsPerToken = 4

// Estimate returns ceil(runes/4). It is a heuristic, not a tokenizer.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Chars converts a token budget to a character budget.
func Chars(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return tokens * CharsPerToken
}

// Truncate cuts text to at most max runes.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

package contextwin

import "unicode/utf8"

// Estimate approximates the token cost of text. It is a crude proxy for a real
// tokenizer, good only for relative budget comparisons of mixed-script text.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n * 11 / 10
	if est < 1 {
		return 1
	}
	return est
}

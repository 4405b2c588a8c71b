// Package tokens provides token count estimation for stored chunks. Because
// ingestion accepts content bound for multiple embedding backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code).
package tokens

// charsPerToken is the conservative character-to-token ratio used for
// estimation. 4 chars/token is standard for English and code.
const charsPerToken = 4

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty text always counts as at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateBatch sums the estimate over a batch of texts.
func EstimateBatch(texts []string) int {
	total := 0
	for _, s := range texts {
		total += Estimate(s)
	}
	return total
}

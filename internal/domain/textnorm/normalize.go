// Package textnorm canonicalizes sentence text. The normalized form is the
// sole equality key for all deduplication: two sentences are "the same" iff
// their normalized forms are identical.
package textnorm

import (
	"regexp"
	"strings"
)

// fillers are transcription artifacts that vary between takes of the same
// line; dropping them keeps repeated dialogue matching across videos.
var fillers = map[string]struct{}{
	"um":   {},
	"uh":   {},
	"er":   {},
	"ah":   {},
	"like": {},
}

var reBoundary = regexp.MustCompile(`^[^\p{L}\p{N}]+|[^\p{L}\p{N}]+$`)

// Normalize lower-cases, collapses whitespace runs, strips boundary
// punctuation and removes filler tokens (including the "you know" bigram).
// Removing a boundary filler can expose new boundary punctuation, so the
// single pass is applied until it reaches a fixed point; the result is
// idempotent by construction.
func Normalize(s string) string {
	for {
		t := pass(s)
		if t == s {
			return t
		}
		s = t
	}
}

func pass(s string) string {
	words := strings.Fields(strings.ToLower(s))

	out := words[:0]
	for i := 0; i < len(words); i++ {
		if words[i] == "you" && i+1 < len(words) && words[i+1] == "know" {
			i++
			continue
		}
		if _, ok := fillers[words[i]]; ok {
			continue
		}
		out = append(out, words[i])
	}

	return reBoundary.ReplaceAllString(strings.Join(out, " "), "")
}

// Package textnorm normalizes free-form chat text before matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Fold canonicalizes s for keyword matching: NFC, case folding, "ё" to "е"
// and collapsed whitespace.
func Fold(s string) string {
	s = norm.NFC.String(s)
	// cases.Caser keeps state, so one is created per call.
	s = cases.Fold().String(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}

// Name canonicalizes an entity name for comparison. On top of Fold it maps
// hyphens and underscores to spaces so "anna-maria" equals "anna maria".
func Name(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return r
	}, s)
	return Fold(s)
}

// Tokens splits folded text into words with surrounding punctuation trimmed.
// Empty tokens are dropped.
func Tokens(folded string) []string {
	fields := strings.Fields(folded)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RuneLen returns the number of characters in s.
func RuneLen(s string) int {
	return len([]rune(s))
}

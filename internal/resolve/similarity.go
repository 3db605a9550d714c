package resolve

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SimilarityFunc scores two normalized names in [0,1].
type SimilarityFunc func(a, b string) float64

// Similarity returns 2*M/T where M is the number of characters in equal
// diff segments and T the total character count of both strings. Identical
// strings score 1, disjoint strings 0.
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(a, b, false)

	matched := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += utf8.RuneCountInString(d.Text)
		}
	}
	return 2 * float64(matched) / float64(total)
}

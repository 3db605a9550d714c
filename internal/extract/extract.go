package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/textnorm"
)

var digitRun = regexp.MustCompile(`\d+`)

// Result holds the fields extracted from one message.
type Result struct {
	Normalized string          `json:"normalized"`
	Numbers    []int           `json:"numbers,omitempty"`
	Category   domain.Category `json:"category,omitempty"`
	Subject    string          `json:"subject,omitempty"`
}

// HasNumber reports whether any number was extracted.
func (r Result) HasNumber() bool { return len(r.Numbers) > 0 }

// HasSubject reports whether a subject name was extracted.
func (r Result) HasSubject() bool { return r.Subject != "" }

// FirstNumber returns the leftmost number, or 0.
func (r Result) FirstNumber() int {
	if len(r.Numbers) == 0 {
		return 0
	}
	return r.Numbers[0]
}

type phrase struct {
	words    []string
	category domain.Category
}

// Extractor is a pure, reusable extractor over a fixed vocabulary.
// It is safe for concurrent use.
type Extractor struct {
	phrases      []phrase
	keywords     map[string]domain.Category
	keywordOrder []string // longest stem first
	stems        []string
	words        map[string]bool
	conjunctions map[string]bool
	numberWords  map[string]int
}

// New builds an extractor for v.
func New(v Vocabulary) *Extractor {
	e := &Extractor{
		keywords:     make(map[string]domain.Category, len(v.CategoryKeywords)),
		words:        make(map[string]bool, len(v.CommandVerbs)+len(v.StopWords)),
		conjunctions: make(map[string]bool, len(v.Conjunctions)),
		numberWords:  make(map[string]int, len(v.NumberWords)),
	}
	for p, c := range v.CategoryPhrases {
		e.phrases = append(e.phrases, phrase{words: strings.Fields(textnorm.Fold(p)), category: c})
	}
	// Longer phrases first, then lexical order for determinism.
	sort.Slice(e.phrases, func(i, j int) bool {
		if len(e.phrases[i].words) != len(e.phrases[j].words) {
			return len(e.phrases[i].words) > len(e.phrases[j].words)
		}
		return strings.Join(e.phrases[i].words, " ") < strings.Join(e.phrases[j].words, " ")
	})
	for k, c := range v.CategoryKeywords {
		k = textnorm.Fold(k)
		e.keywords[k] = c
		e.keywordOrder = append(e.keywordOrder, k)
		e.stems = append(e.stems, k)
	}
	sort.Slice(e.keywordOrder, func(i, j int) bool {
		a, b := e.keywordOrder[i], e.keywordOrder[j]
		if textnorm.RuneLen(a) != textnorm.RuneLen(b) {
			return textnorm.RuneLen(a) > textnorm.RuneLen(b)
		}
		return a < b
	})
	for _, w := range v.NounStems {
		e.stems = append(e.stems, textnorm.Fold(w))
	}
	for _, w := range v.CommandVerbs {
		e.words[textnorm.Fold(w)] = true
	}
	for _, w := range v.StopWords {
		e.words[textnorm.Fold(w)] = true
	}
	for _, w := range v.Conjunctions {
		e.conjunctions[textnorm.Fold(w)] = true
	}
	for w, n := range v.NumberWords {
		e.numberWords[textnorm.Fold(w)] = n
	}
	sort.Strings(e.stems)
	return e
}

// Default returns an extractor over DefaultVocabulary.
func Default() *Extractor {
	return New(DefaultVocabulary())
}

// Extract pulls numbers, a category and the first subject name from text.
func (e *Extractor) Extract(text string) Result {
	res, subjects := e.extract(text, 1)
	if len(subjects) > 0 {
		res.Subject = subjects[0]
	}
	return res
}

// ExtractSubjects returns up to n subject names, skipping conjunctions,
// for messages that mention several subjects ("анна и мелиса").
func (e *Extractor) ExtractSubjects(text string, n int) []string {
	_, subjects := e.extract(text, n)
	return subjects
}

func (e *Extractor) extract(text string, maxSubjects int) (Result, []string) {
	folded := textnorm.Fold(text)
	tokens := textnorm.Tokens(folded)
	res := Result{Normalized: folded}

	consumed := make([]bool, len(tokens))
	res.Category = e.matchCategory(tokens, consumed)

	var subjects []string
	for i, tok := range tokens {
		if n, ok := e.numberWords[tok]; ok {
			res.Numbers = append(res.Numbers, n)
			continue
		}
		if runs := digitRun.FindAllString(tok, -1); len(runs) > 0 {
			for _, run := range runs {
				if n, err := strconv.Atoi(run); err == nil {
					res.Numbers = append(res.Numbers, n)
				}
			}
			continue
		}
		if consumed[i] || len(subjects) >= maxSubjects {
			continue
		}
		if e.conjunctions[tok] || e.isStopword(tok) {
			continue
		}
		subjects = append(subjects, tok)
	}
	return res, subjects
}

// matchCategory checks multi-word phrases first so a single keyword cannot
// claim half of a two-word phrase, then falls back to single keywords.
// Tokens belonging to a matched phrase are marked consumed.
func (e *Extractor) matchCategory(tokens []string, consumed []bool) domain.Category {
	for _, p := range e.phrases {
		if idx := indexOfSequence(tokens, p.words); idx >= 0 {
			for j := range p.words {
				consumed[idx+j] = true
			}
			return p.category
		}
	}
	for _, tok := range tokens {
		for _, k := range e.keywordOrder {
			if matchesStem(tok, k) {
				return e.keywords[k]
			}
		}
	}
	return domain.CategoryNone
}

func (e *Extractor) isStopword(tok string) bool {
	if e.words[tok] {
		return true
	}
	for _, s := range e.stems {
		if matchesStem(tok, s) {
			return true
		}
	}
	return false
}

// matchesStem matches short stems exactly and longer ones as a prefix,
// which covers Russian inflection ("кастом" -> "кастома", "кастомов").
func matchesStem(tok, stem string) bool {
	if textnorm.RuneLen(stem) < minStemLen {
		return tok == stem
	}
	return strings.HasPrefix(tok, stem)
}

func indexOfSequence(tokens, seq []string) int {
	if len(seq) == 0 || len(seq) > len(tokens) {
		return -1
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j, w := range seq {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return i
	}
	return -1
}

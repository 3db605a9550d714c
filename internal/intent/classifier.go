package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/chatdesk/internal/textnorm"
)

var digitRun = regexp.MustCompile(`\d`)

// Hints carry facts the extractor found independently of the rules.
type Hints struct {
	HasSubject bool
	HasNumber  bool
}

// Result is the outcome of classifying one message.
type Result struct {
	Intent Intent `json:"intent"`
	// Rule is the intent of the rule that fired, before refinement.
	// Empty when a fallback produced the result.
	Rule      Intent `json:"rule,omitempty"`
	MatchedBy string `json:"matched_by,omitempty"`
}

// Fallback reports whether no rule matched.
func (r Result) Fallback() bool { return r.Rule == "" }

// RuleTrace describes how one rule was evaluated.
type RuleTrace struct {
	Intent    Intent `json:"intent"`
	Priority  int    `json:"priority"`
	Satisfied bool   `json:"satisfied"`
	MatchedBy string `json:"matched_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Explanation is a full trace of a classification.
type Explanation struct {
	Normalized string      `json:"normalized"`
	Result     Result      `json:"result"`
	Trace      []RuleTrace `json:"trace"`
}

// Classifier evaluates a RuleSet against chat text. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	rules *RuleSet
}

// NewClassifier creates a classifier over rules.
func NewClassifier(rules *RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the intent of text. The first satisfied rule in priority
// order wins; without one, hints decide between AMBIGUOUS, SEARCH_SUBJECT and
// UNKNOWN.
func (c *Classifier) Classify(text string, hints Hints) Result {
	return c.run(text, hints, nil)
}

// Explain classifies text and records the verdict of every rule evaluated.
func (c *Classifier) Explain(text string, hints Hints) Explanation {
	var trace []RuleTrace
	res := c.run(text, hints, &trace)
	return Explanation{
		Normalized: textnorm.Fold(text),
		Result:     res,
		Trace:      trace,
	}
}

func (c *Classifier) run(text string, hints Hints, trace *[]RuleTrace) Result {
	folded := textnorm.Fold(text)
	// Phrases match whole words, ignoring punctuation glued to tokens.
	padded := " " + strings.Join(textnorm.Tokens(folded), " ") + " "
	hasDigits := digitRun.MatchString(text)

	for i := range c.rules.rules {
		r := &c.rules.rules[i]
		matchedBy, reason := evaluate(r, folded, padded, hasDigits)
		if trace != nil {
			*trace = append(*trace, RuleTrace{
				Intent:    r.Intent,
				Priority:  r.Priority,
				Satisfied: reason == "",
				MatchedBy: matchedBy,
				Reason:    reason,
			})
		}
		if reason != "" {
			continue
		}
		return Result{Intent: c.refine(r.Intent, hints), Rule: r.Intent, MatchedBy: matchedBy}
	}

	switch {
	case hints.HasSubject && hints.HasNumber:
		return Result{Intent: Ambiguous}
	case hints.HasSubject:
		return Result{Intent: SearchSubject}
	default:
		return Result{Intent: Unknown}
	}
}

func (c *Classifier) refine(in Intent, hints Hints) Intent {
	ref, ok := c.rules.Refinement(in)
	if !ok {
		return in
	}
	if hints.HasSubject {
		return ref.WithSubject
	}
	return ref.WithoutSubject
}

// evaluate returns what satisfied the rule, or a non-empty reason why the
// rule did not fire.
func evaluate(r *Rule, folded, padded string, hasDigits bool) (matchedBy, reason string) {
	matchedBy = firstMatch(r, folded, padded)
	if matchedBy == "" {
		return "", "no keyword, phrase or pattern"
	}
	for _, ex := range r.Exclusions {
		if strings.Contains(folded, ex) {
			return matchedBy, fmt.Sprintf("excluded by %q", ex)
		}
	}
	if r.RequiresNumber && !hasDigits {
		return matchedBy, "requires a number"
	}
	return matchedBy, ""
}

func firstMatch(r *Rule, folded, padded string) string {
	for _, p := range r.Phrases {
		if strings.Contains(padded, " "+p+" ") {
			return "phrase:" + p
		}
	}
	for _, re := range r.Patterns {
		if re.MatchString(folded) {
			return "pattern:" + re.String()
		}
	}
	for _, k := range r.Keywords {
		if strings.Contains(folded, k) {
			return "keyword:" + k
		}
	}
	return ""
}

// Package intent maps raw chat text to one symbolic intent using a
// priority-ordered, deterministic rule set.
package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/chatdesk/internal/textnorm"
)

// Intent is a symbolic user intention.
type Intent string

const (
	Cancel                 Intent = "CANCEL"
	Back                   Intent = "BACK"
	Help                   Intent = "HELP"
	ShowRecent             Intent = "SHOW_RECENT"
	RecordPayment          Intent = "RECORD_PAYMENT"
	Schedule               Intent = "SCHEDULE"
	AddFiles               Intent = "ADD_FILES"
	CreateOrders           Intent = "CREATE_ORDERS"
	ShowCategory           Intent = "SHOW_CATEGORY"
	ShowCategoryMenu       Intent = "SHOW_CATEGORY_MENU"
	ShowCategoryForSubject Intent = "SHOW_CATEGORY_FOR_SUBJECT"
	SearchSubject          Intent = "SEARCH_SUBJECT"
	Ambiguous              Intent = "AMBIGUOUS"
	Unknown                Intent = "UNKNOWN"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule is one declarative matching rule.
type Rule struct {
	Intent         Intent
	Keywords       []string
	Phrases        []string
	Patterns       []*regexp.Regexp
	Priority       int
	RequiresNumber bool
	Exclusions     []string
}

// Refinement rewrites a matched intent based on subject presence.
type Refinement struct {
	WithSubject    Intent `yaml:"with_subject"`
	WithoutSubject Intent `yaml:"without_subject"`
}

// RuleSet is an immutable, priority-ordered collection of rules.
type RuleSet struct {
	rules       []Rule
	refinements map[Intent]Refinement
}

type ruleFile struct {
	Rules []struct {
		Intent         Intent   `yaml:"intent"`
		Priority       int      `yaml:"priority"`
		Keywords       []string `yaml:"keywords"`
		Phrases        []string `yaml:"phrases"`
		Patterns       []string `yaml:"patterns"`
		RequiresNumber bool     `yaml:"requires_number"`
		Exclusions     []string `yaml:"exclusions"`
	} `yaml:"rules"`
	Refinements map[Intent]Refinement `yaml:"refinements"`
}

// NewRuleSet validates rules and orders them by descending priority.
// Equal priorities keep their declaration order.
func NewRuleSet(rules []Rule, refinements map[Intent]Refinement) (*RuleSet, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Intent == "" {
			return nil, fmt.Errorf("rule %d: intent is required", i)
		}
		if len(r.Keywords)+len(r.Phrases)+len(r.Patterns) == 0 {
			return nil, fmt.Errorf("rule %d (%s): needs at least one keyword, phrase or pattern", i, r.Intent)
		}
		r.Keywords = foldAll(r.Keywords)
		r.Phrases = foldAll(r.Phrases)
		r.Exclusions = foldAll(r.Exclusions)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })

	refs := make(map[Intent]Refinement, len(refinements))
	for in, ref := range refinements {
		if ref.WithSubject == "" || ref.WithoutSubject == "" {
			return nil, fmt.Errorf("refinement for %s: both with_subject and without_subject are required", in)
		}
		refs[in] = ref
	}
	return &RuleSet{rules: out, refinements: refs}, nil
}

// LoadRules parses a YAML rule file.
func LoadRules(data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("parse rules: no rules defined")
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		r := Rule{
			Intent:         fr.Intent,
			Keywords:       fr.Keywords,
			Phrases:        fr.Phrases,
			Priority:       fr.Priority,
			RequiresNumber: fr.RequiresNumber,
			Exclusions:     fr.Exclusions,
		}
		for _, p := range fr.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): compile pattern %q: %w", i, fr.Intent, p, err)
			}
			r.Patterns = append(r.Patterns, re)
		}
		rules = append(rules, r)
	}
	return NewRuleSet(rules, f.Refinements)
}

// LoadRulesFile reads rules from path, or the embedded defaults when path
// is empty.
func LoadRulesFile(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return LoadRules(data)
}

// DefaultRules returns the embedded rule set.
func DefaultRules() (*RuleSet, error) {
	return LoadRules(defaultRulesYAML)
}

// Rules returns the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Refinement returns the refinement declared for in.
func (rs *RuleSet) Refinement(in Intent) (Refinement, bool) {
	ref, ok := rs.refinements[in]
	return ref, ok
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := textnorm.Fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}

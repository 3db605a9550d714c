// Package resolve turns a free-form subject name into zero, one or many
// candidate entities using tiered matching against the user's recent
// entities and, failing that, the document store.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/textnorm"
)

// Outcome is the tag of a resolution result.
type Outcome int

const (
	NotFound Outcome = iota
	Found
	Confirm
	Multiple
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Confirm:
		return "confirm"
	case Multiple:
		return "multiple"
	default:
		return "not_found"
	}
}

// Tier is how a candidate matched.
type Tier string

const (
	TierExact     Tier = "exact"
	TierAlias     Tier = "alias"
	TierSubstring Tier = "substring"
	TierFuzzy     Tier = "fuzzy"
	// TierNone marks unscored remote candidates offered as a last resort.
	TierNone Tier = "none"
)

// Source tells where candidates came from.
type Source string

const (
	SourceNone   Source = ""
	SourceRecent Source = "recent"
	SourceRemote Source = "remote"
)

// Thresholds are the tunable scoring policy. The fuzzy floors are empirical.
type Thresholds struct {
	RecentFuzzy   float64
	RemoteFuzzy   float64
	AliasExact    float64
	Substring     float64
	Decisive      float64
	MinFuzzyLen   int
	MaxCandidates int
}

// DefaultThresholds returns the production scoring policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RecentFuzzy:   0.85,
		RemoteFuzzy:   0.80,
		AliasExact:    0.98,
		Substring:     0.95,
		Decisive:      0.98,
		MinFuzzyLen:   4,
		MaxCandidates: 5,
	}
}

// Candidate is one scored match.
type Candidate struct {
	Entity domain.EntityRef `json:"entity"`
	Tier   Tier             `json:"tier"`
	Score  float64          `json:"score"`
}

// Result is the tagged outcome of one resolution.
type Result struct {
	Query      string      `json:"query"`
	Outcome    Outcome     `json:"outcome"`
	Source     Source      `json:"source,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Best returns the top candidate, if any.
func (r Result) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// RecentSource lists a user's recently used entities, most recent first.
type RecentSource interface {
	List(ctx context.Context, userID int64) []domain.EntityRef
}

// Searcher finds entities whose title or an alias contains query.
type Searcher interface {
	SearchEntities(ctx context.Context, query string) ([]domain.Entity, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThresholds overrides the scoring policy.
func WithThresholds(th Thresholds) Option {
	return func(r *Resolver) { r.th = th }
}

// WithSimilarity replaces the fuzzy similarity function.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(r *Resolver) { r.sim = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver runs the resolution pipeline. It is safe for concurrent use.
type Resolver struct {
	recent RecentSource
	remote Searcher
	th     Thresholds
	sim    SimilarityFunc
	logger *slog.Logger
}

// New creates a resolver. remote may be nil, in which case only recent
// entities are consulted.
func New(recent RecentSource, remote Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		recent: recent,
		remote: remote,
		th:     DefaultThresholds(),
		sim:    Similarity,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Thresholds returns the active scoring policy.
func (r *Resolver) Thresholds() Thresholds {
	return r.th
}

// Resolve resolves name for userID. Recent entities are tried first; the
// remote store is queried only when none of them qualifies.
func (r *Resolver) Resolve(ctx context.Context, userID int64, name string) (Result, error) {
	query := textnorm.Name(name)
	if query == "" {
		return Result{Query: query, Outcome: NotFound}, nil
	}

	if r.recent != nil {
		var cands []Candidate
		for _, ref := range r.recent.List(ctx, userID) {
			if c, ok := r.score(query, ref, nil, r.th.RecentFuzzy); ok {
				cands = append(cands, c)
			}
		}
		if len(cands) > 0 {
			res := r.decide(cands)
			res.Query, res.Source = query, SourceRecent
			return res, nil
		}
	}

	if r.remote == nil {
		return Result{Query: query, Outcome: NotFound}, nil
	}

	found, err := r.remote.SearchEntities(ctx, query)
	if err != nil {
		return Result{Query: query}, fmt.Errorf("search entities %q: %w", query, err)
	}
	r.logger.Debug("remote entity search", "query", query, "results", len(found))

	var cands []Candidate
	for _, e := range found {
		if c, ok := r.score(query, e.Ref(), e.Aliases, r.th.RemoteFuzzy); ok {
			cands = append(cands, c)
		}
	}
	if len(cands) > 0 {
		res := r.decide(cands)
		res.Query, res.Source = query, SourceRemote
		return res, nil
	}

	if len(found) > 0 && len(found) <= r.th.MaxCandidates {
		res := Result{Query: query, Outcome: Multiple, Source: SourceRemote}
		for _, e := range found {
			res.Candidates = append(res.Candidates, Candidate{Entity: e.Ref(), Tier: TierNone})
		}
		return res, nil
	}
	return Result{Query: query, Outcome: NotFound}, nil
}

// ResolveMany resolves several names concurrently. Results keep the order
// of names; the first error cancels the rest.
func (r *Resolver) ResolveMany(ctx context.Context, userID int64, names []string) ([]Result, error) {
	results := make([]Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			res, err := r.Resolve(gctx, userID, name)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// score rates one entity against query, keeping the best tier across the
// title and aliases.
func (r *Resolver) score(query string, ref domain.EntityRef, aliases []string, fuzzyFloor float64) (Candidate, bool) {
	title := textnorm.Name(ref.Name)
	normAliases := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a = textnorm.Name(a); a != "" {
			normAliases = append(normAliases, a)
		}
	}

	if title == query {
		return Candidate{Entity: ref, Tier: TierExact, Score: 1}, true
	}
	for _, a := range normAliases {
		if a == query {
			return Candidate{Entity: ref, Tier: TierAlias, Score: r.th.AliasExact}, true
		}
	}
	if strings.Contains(title, query) {
		return Candidate{Entity: ref, Tier: TierSubstring, Score: r.th.Substring}, true
	}
	for _, a := range normAliases {
		if strings.Contains(a, query) {
			return Candidate{Entity: ref, Tier: TierSubstring, Score: r.th.Substring}, true
		}
	}

	if textnorm.RuneLen(query) < r.th.MinFuzzyLen {
		return Candidate{}, false
	}
	best := r.sim(query, title)
	for _, a := range normAliases {
		if s := r.sim(query, a); s > best {
			best = s
		}
	}
	if best >= fuzzyFloor {
		return Candidate{Entity: ref, Tier: TierFuzzy, Score: best}, true
	}
	return Candidate{}, false
}

// decide applies the single/multiple/confirm rule to scored candidates.
func (r *Resolver) decide(cands []Candidate) Result {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return tierRank(cands[i].Tier) < tierRank(cands[j].Tier)
	})

	switch len(cands) {
	case 0:
		return Result{Outcome: NotFound}
	case 1:
		if cands[0].Tier == TierFuzzy {
			return Result{Outcome: Confirm, Candidates: cands}
		}
		return Result{Outcome: Found, Candidates: cands}
	}

	// Only an equal score at the top is a tie; exact 1.0 beats alias 0.98.
	top, next := cands[0], cands[1]
	if top.Score >= r.th.Decisive && top.Tier != TierFuzzy && next.Score < top.Score {
		return Result{Outcome: Found, Candidates: cands[:1]}
	}
	if len(cands) > r.th.MaxCandidates {
		cands = cands[:r.th.MaxCandidates]
	}
	return Result{Outcome: Multiple, Candidates: cands}
}

func tierRank(t Tier) int {
	switch t {
	case TierExact:
		return 0
	case TierAlias:
		return 1
	case TierSubstring:
		return 2
	case TierFuzzy:
		return 3
	default:
		return 4
	}
}

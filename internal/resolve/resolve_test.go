package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatdesk/internal/domain"
)

type fakeRecent []domain.EntityRef

func (f fakeRecent) List(context.Context, int64) []domain.EntityRef { return f }

type fakeSearcher struct {
	entities []domain.Entity
	err      error
	calls    atomic.Int32
}

func (f *fakeSearcher) SearchEntities(context.Context, string) ([]domain.Entity, error) {
	f.calls.Add(1)
	return f.entities, f.err
}

func refs(names ...string) fakeRecent {
	out := make(fakeRecent, 0, len(names))
	for i, n := range names {
		out = append(out, domain.EntityRef{ID: fmt.Sprintf("e%d", i+1), Name: n})
	}
	return out
}

// fixedSimilarity scores by the second argument only.
func fixedSimilarity(scores map[string]float64) SimilarityFunc {
	return func(_, b string) float64 { return scores[b] }
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, Similarity("мелиса", "мелиса"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abcd", "wxyz"), 1e-9)
	assert.InDelta(t, 12.0/13.0, Similarity("мелиса", "мелисса"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
}

func TestResolve_ExactRecentMatch(t *testing.T) {
	t.Parallel()
	remote := &fakeSearcher{}
	r := New(refs("Мелиса", "Анна"), remote)

	res, err := r.Resolve(context.Background(), 1, "мелиса")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	assert.Equal(t, SourceRecent, res.Source)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "e1", res.Candidates[0].Entity.ID)
	assert.Equal(t, TierExact, res.Candidates[0].Tier)
	assert.InDelta(t, 1.0, res.Candidates[0].Score, 1e-9)
	assert.Zero(t, remote.calls.Load(), "remote must not be queried after a recent hit")
}

func TestResolve_ShortNamesNeverFuzzy(t *testing.T) {
	t.Parallel()

	var called atomic.Bool
	sim := func(a, b string) float64 {
		called.Store(true)
		return 1
	}
	remote := &fakeSearcher{entities: []domain.Entity{{ID: "r1", Title: "Боб"}}}
	r := New(refs("Анна", "Олег"), remote, WithSimilarity(sim))

	for _, name := range []string{"ан", "ана", "олк", "б", "б-б"} {
		res, err := r.Resolve(context.Background(), 1, name)
		require.NoError(t, err)
		for _, c := range res.Candidates {
			assert.NotEqual(t, TierFuzzy, c.Tier, name)
		}
	}
	assert.False(t, called.Load(), "similarity must not run for names shorter than 4 characters")
}

func TestResolve_SingleFuzzyNeedsConfirm(t *testing.T) {
	t.Parallel()
	r := New(refs("Мелиса", "Анна"), nil)

	res, err := r.Resolve(context.Background(), 1, "мелисса")
	require.NoError(t, err)

	assert.Equal(t, Confirm, res.Outcome)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, TierFuzzy, res.Candidates[0].Tier)
	assert.Equal(t, "Мелиса", res.Candidates[0].Entity.Name)
}

func TestResolve_TwoFuzzyCandidatesAreMultiple(t *testing.T) {
	t.Parallel()
	sim := fixedSimilarity(map[string]float64{"алексей": 0.86, "алекс": 0.86, "борис": 0.1})
	r := New(refs("Алексей", "Борис", "Алекс"), nil, WithSimilarity(sim))

	res, err := r.Resolve(context.Background(), 1, "алексия")
	require.NoError(t, err)

	assert.Equal(t, Multiple, res.Outcome)
	require.Len(t, res.Candidates, 2)
	for _, c := range res.Candidates {
		assert.Equal(t, TierFuzzy, c.Tier)
		assert.InDelta(t, 0.86, c.Score, 1e-9)
	}
}

func TestResolve_MultipleRankedByScore(t *testing.T) {
	t.Parallel()
	sim := fixedSimilarity(map[string]float64{"алексей": 0.86, "алекс": 0.91})
	r := New(refs("Алексей", "Алекс"), nil, WithSimilarity(sim))

	res, err := r.Resolve(context.Background(), 1, "алексия")
	require.NoError(t, err)

	require.Equal(t, Multiple, res.Outcome)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Алекс", res.Candidates[0].Entity.Name)
	assert.Equal(t, "Алексей", res.Candidates[1].Entity.Name)
}

func TestResolve_DecisiveExactBeatsSubstring(t *testing.T) {
	t.Parallel()
	r := New(refs("Анна Мария", "Анна"), nil)

	res, err := r.Resolve(context.Background(), 1, "анна")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Анна", res.Candidates[0].Entity.Name)
}

func TestResolve_ExactTitleBeatsAnotherAlias(t *testing.T) {
	t.Parallel()
	remote := &fakeSearcher{entities: []domain.Entity{
		{ID: "a", Title: "Мелиса"},
		{ID: "b", Title: "Мелиса Петрова", Aliases: []string{"мелиса"}},
	}}
	r := New(nil, remote)

	res, err := r.Resolve(context.Background(), 1, "мелиса")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a", res.Candidates[0].Entity.ID)
	assert.Equal(t, TierExact, res.Candidates[0].Tier)
}

func TestResolve_TiedExactMatchesAreMultiple(t *testing.T) {
	t.Parallel()
	r := New(refs("Анна", "анна"), nil)

	res, err := r.Resolve(context.Background(), 1, "Анна")
	require.NoError(t, err)

	assert.Equal(t, Multiple, res.Outcome)
	assert.Len(t, res.Candidates, 2)
}

func TestResolve_MultipleCappedAtFive(t *testing.T) {
	t.Parallel()
	r := New(refs("Анна 1", "Анна 2", "Анна 3", "Анна 4", "Анна 5", "Анна 6", "Анна 7"), nil)

	res, err := r.Resolve(context.Background(), 1, "анна")
	require.NoError(t, err)

	assert.Equal(t, Multiple, res.Outcome)
	assert.Len(t, res.Candidates, 5)
}

func TestResolve_NameNormalization(t *testing.T) {
	t.Parallel()
	r := New(refs("Анна Мария"), nil)

	res, err := r.Resolve(context.Background(), 1, "  АННА-мария ")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	assert.Equal(t, TierExact, res.Candidates[0].Tier)
}

func TestResolve_RemoteAliasExact(t *testing.T) {
	t.Parallel()
	remote := &fakeSearcher{entities: []domain.Entity{
		{ID: "r1", Title: "Мелиса Иванова", Aliases: []string{"Мел"}},
	}}
	r := New(refs("Анна"), remote)

	res, err := r.Resolve(context.Background(), 1, "мел")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	assert.Equal(t, SourceRemote, res.Source)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, TierAlias, res.Candidates[0].Tier)
	assert.InDelta(t, 0.98, res.Candidates[0].Score, 1e-9)
}

func TestResolve_RemoteFuzzyFloorIsLooser(t *testing.T) {
	t.Parallel()
	sim := fixedSimilarity(map[string]float64{"борис": 0.82})
	remote := &fakeSearcher{entities: []domain.Entity{{ID: "e1", Title: "Борис"}}}
	r := New(refs("Борис"), remote, WithSimilarity(sim))

	res, err := r.Resolve(context.Background(), 1, "борислав")
	require.NoError(t, err)

	assert.Equal(t, Confirm, res.Outcome)
	assert.Equal(t, SourceRemote, res.Source)
	assert.EqualValues(t, 1, remote.calls.Load())
}

func TestResolve_RemoteUnscoredFallback(t *testing.T) {
	t.Parallel()
	sim := fixedSimilarity(nil)

	few := &fakeSearcher{entities: []domain.Entity{
		{ID: "a", Title: "Ольга"}, {ID: "b", Title: "Ирина"}, {ID: "c", Title: "Вера"},
	}}
	res, err := New(nil, few, WithSimilarity(sim)).Resolve(context.Background(), 1, "zzzz")
	require.NoError(t, err)
	assert.Equal(t, Multiple, res.Outcome)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, TierNone, res.Candidates[0].Tier)

	many := &fakeSearcher{}
	for i := range 6 {
		many.entities = append(many.entities, domain.Entity{ID: fmt.Sprint(i), Title: fmt.Sprint("Имя ", i)})
	}
	res, err = New(nil, many, WithSimilarity(sim)).Resolve(context.Background(), 1, "zzzz")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
	assert.Empty(t, res.Candidates)
}

func TestResolve_RemoteError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := New(nil, &fakeSearcher{err: boom})

	_, err := r.Resolve(context.Background(), 1, "мелиса")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestResolve_EmptyAndNoSources(t *testing.T) {
	t.Parallel()
	r := New(nil, nil)

	res, err := r.Resolve(context.Background(), 1, "   ")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)

	res, err = r.Resolve(context.Background(), 1, "мелиса")
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
}

func TestResolve_AlwaysOneOutcomeAndBounded(t *testing.T) {
	t.Parallel()
	remote := &fakeSearcher{}
	for i := range 12 {
		remote.entities = append(remote.entities, domain.Entity{
			ID:      fmt.Sprint("r", i),
			Title:   fmt.Sprintf("Клиент %d", i),
			Aliases: []string{fmt.Sprintf("к%d", i)},
		})
	}
	r := New(refs("Клиент 1", "Клиентка", "Мелиса"), remote)

	valid := map[Outcome]bool{Found: true, Confirm: true, Multiple: true, NotFound: true}
	for _, q := range []string{"клиент", "к1", "клиент 11", "мелиса", "мелисса", "x", "", "клиентка", "ент"} {
		res, err := r.Resolve(context.Background(), 1, q)
		require.NoError(t, err, q)
		assert.True(t, valid[res.Outcome], q)
		assert.LessOrEqual(t, len(res.Candidates), 5, q)
		switch res.Outcome {
		case Found, Confirm:
			assert.Len(t, res.Candidates, 1, q)
		case NotFound:
			assert.Empty(t, res.Candidates, q)
		}
	}
}

func TestResolveMany_KeepsOrder(t *testing.T) {
	t.Parallel()
	r := New(refs("Анна", "Мелиса"), nil)

	got, err := r.ResolveMany(context.Background(), 1, []string{"мелиса", "анна", "никто"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Мелиса", got[0].Candidates[0].Entity.Name)
	assert.Equal(t, "Анна", got[1].Candidates[0].Entity.Name)
	assert.Equal(t, NotFound, got[2].Outcome)
}

func TestResolveMany_PropagatesError(t *testing.T) {
	t.Parallel()
	r := New(nil, &fakeSearcher{err: errors.New("down")})

	_, err := r.ResolveMany(context.Background(), 1, []string{"a", "b"})
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "confirm", Confirm.String())
	assert.Equal(t, "multiple", Multiple.String())
	assert.Equal(t, "not_found", NotFound.String())
}

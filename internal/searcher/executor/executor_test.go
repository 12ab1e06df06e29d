package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *indexer.Engine
	exec   *Executor
	store  *memstore.Store
}

func newFixture(t *testing.T, mutate func(*config.SearchConfig)) *fixture {
	t.Helper()
	cfg := config.Default().Search
	cfg.KeyPrefix = "test:"
	if mutate != nil {
		mutate(&cfg)
	}
	st := memstore.New()
	engine := indexer.NewEngine(st, tokenizer.New(nil), cfg)
	return &fixture{engine: engine, exec: New(engine, cfg), store: st}
}

func (f *fixture) index(t *testing.T, id int64, content string) {
	t.Helper()
	_, err := f.engine.Index(context.Background(), id, content)
	require.NoError(t, err)
}

func (f *fixture) search(t *testing.T, query string, partial bool) *SearchResult {
	t.Helper()
	res, err := f.exec.Search(context.Background(), query, partial, 0)
	require.NoError(t, err)
	return res
}

func ids(docs []ranker.ScoredDoc) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSearchRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "quick brown fox")

	res := f.search(t, "fox", false)
	assert.Equal(t, []string{"fox"}, res.Tokens)
	assert.Equal(t, []int64{1}, ids(res.Results))
	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, map[string]int{"fox": 1}, res.TermStats)
}

func TestSearchAfterReindexAndDeindex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.index(t, 1, "alpha")

	_, err := f.engine.Reindex(ctx, 1, "beta")
	require.NoError(t, err)
	assert.Empty(t, f.search(t, "alpha", false).Results)
	assert.Equal(t, []int64{1}, ids(f.search(t, "beta", false).Results))

	_, err = f.engine.Deindex(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, f.search(t, "beta", false).Results)
	assert.Empty(t, f.search(t, "beta", true).Results)
}

func TestSearchRanksByTermCoverage(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 10, "machine learning algorithm")
	f.index(t, 11, "machine learning")

	res := f.search(t, "machine learning algorithm", false)
	require.Len(t, res.Results, 2)
	assert.EqualValues(t, 10, res.Results[0].ID)
}

func TestSearchAllTermsOutrankRepeatedSubset(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "machine learning")
	f.index(t, 2, "machine machine machine machine machine")
	f.index(t, 3, "gardening")

	res := f.search(t, "machine learning", false)
	assert.Equal(t, []int64{1, 2}, ids(res.Results))
}

func TestSearchRanksByFrequency(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 20, "python tutorial")
	f.index(t, 21, "python python python")

	res := f.search(t, "python", false)
	require.Len(t, res.Results, 2)
	assert.EqualValues(t, 21, res.Results[0].ID)
}

func TestSearchEqualScoresOrderByID(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []int64{7, 3, 5} {
		f.index(t, id, "same words")
	}
	assert.Equal(t, []int64{3, 5, 7}, ids(f.search(t, "words", false).Results))
}

func TestSearchWithoutTerms(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "the quick fox")

	for _, q := range []string{"", "the is a", "?!,.", "<b></b>"} {
		res := f.search(t, q, true)
		assert.Empty(t, res.Tokens, q)
		assert.Empty(t, res.Results, q)
		assert.NotNil(t, res.Results, q)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newFixture(t, nil)
	res := f.search(t, "anything", true)
	assert.Equal(t, []string{"anything"}, res.Tokens)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.TotalHits)
}

func TestSearchKeepsUnresolvedTokens(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "golang notes")

	res := f.search(t, "golang missing", false)
	assert.Equal(t, []string{"golang", "missing"}, res.Tokens)
	assert.Equal(t, []int64{1}, ids(res.Results))
	assert.NotContains(t, res.TermStats, "missing")
}

func TestSearchReturnsDuplicateTokens(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "redis notes")

	res := f.search(t, "redis Redis notes", false)
	assert.Equal(t, []string{"redis", "redis", "notes"}, res.Tokens)
	assert.Equal(t, []int64{1}, ids(res.Results))
	assert.Len(t, res.TermStats, 2)
}

func TestSearchPartialPrefix(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "programming in go")
	f.index(t, 2, "program notes")
	f.index(t, 3, "reprogram everything")
	f.index(t, 4, "中文输入法")

	res := f.search(t, "progr", true)
	assert.ElementsMatch(t, []int64{1, 2}, ids(res.Results))
	assert.Equal(t, []string{"program", "programming"}, res.Expanded["progr"])
	assert.Equal(t, 2, res.TermStats["progr"])

	res = f.search(t, "中文", true)
	assert.Equal(t, []int64{4}, ids(res.Results))

	assert.Empty(t, f.search(t, "progr", false).Results)
}

func TestSearchPartialSubstring(t *testing.T) {
	f := newFixture(t, func(cfg *config.SearchConfig) {
		cfg.MatchStrategy = config.MatchSubstring
	})
	f.index(t, 1, "programming")
	f.index(t, 3, "reprogram")

	res := f.search(t, "program", true)
	assert.ElementsMatch(t, []int64{1, 3}, ids(res.Results))
}

func TestSearchExactMatchSkipsFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "go")
	f.index(t, 2, "gopher")

	res := f.search(t, "go", true)
	assert.Equal(t, []int64{1}, ids(res.Results))
	assert.Nil(t, res.Expanded)
}

func TestSearchPartialTreatsGlobCharactersLiterally(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "anything")

	// Only letters survive analysis, but the pattern must still be escaped
	// for any term containing glob syntax.
	assert.Equal(t, "a\\*b*", f.exec.pattern("a*b"))
	assert.Empty(t, f.search(t, "zzz", true).Results)
}

func TestSearchLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.SearchConfig) {
		cfg.MaxResults = 3
		cfg.DefaultLimit = 3
	})
	for id := int64(1); id <= 5; id++ {
		f.index(t, id, "note")
	}
	ctx := context.Background()

	res, err := f.exec.Search(ctx, "note", false, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(res.Results))
	assert.Equal(t, 5, res.TotalHits)

	res, err = f.exec.Search(ctx, "note", false, 100)
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)

	res, err = f.exec.Search(ctx, "note", false, 0)
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
}

func TestSearchConcurrentlyIndexedDocuments(t *testing.T) {
	f := newFixture(t, func(cfg *config.SearchConfig) {
		cfg.MaxResults = 1000
	})
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.engine.Index(context.Background(), id, fmt.Sprintf("common entry%d", id))
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, f.search(t, "common", false).Results, n)
	for i := 0; i < n; i++ {
		res := f.search(t, fmt.Sprint(i), false)
		assert.Equal(t, []int64{int64(i)}, ids(res.Results))
	}
}

func TestSearchStoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "fox")
	f.store.FailWith(errors.New("dial tcp: connection refused"))

	res, err := f.exec.Search(context.Background(), "fox", true, 10)
	require.Error(t, err)
	assert.Nil(t, res, "an unavailable store must not look like an empty result")
	assert.True(t, apperrors.IsStoreFailure(err))
}

type blockingIndex struct {
	Index
	release chan struct{}
}

func (b *blockingIndex) DocCount(ctx context.Context) (int64, error) {
	<-b.release
	return b.Index.DocCount(ctx)
}

func TestSearchCallerCancellation(t *testing.T) {
	f := newFixture(t, nil)
	f.index(t, 1, "fox")
	blocking := &blockingIndex{Index: f.engine, release: make(chan struct{})}
	exec := New(blocking, config.Default().Search)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := exec.Search(ctx, "fox", false, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreFailure(err))

	close(blocking.release)
	res, err := exec.Search(context.Background(), "fox", false, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(res.Results))
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, distinct([]string{"b", "a", "b", "c", "a"}))
}

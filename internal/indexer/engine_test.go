package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(prefix string) config.SearchConfig {
	cfg := config.Default().Search
	cfg.KeyPrefix = prefix
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewEngine(st, tokenizer.New(nil), testConfig("test:")), st
}

func mustIndex(t *testing.T, e *Engine, id int64, content string) Outcome {
	t.Helper()
	outcome, err := e.Index(context.Background(), id, content)
	require.NoError(t, err)
	return outcome
}

func docCount(t *testing.T, e *Engine) int64 {
	t.Helper()
	n, err := e.DocCount(context.Background())
	require.NoError(t, err)
	return n
}

func isIndexed(t *testing.T, e *Engine, id int64) bool {
	t.Helper()
	ok, err := e.IsIndexed(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func postings(t *testing.T, e *Engine, term string) index.PostingList {
	t.Helper()
	lists, err := e.Postings(context.Background(), []string{term})
	require.NoError(t, err)
	require.Len(t, lists, 1)
	return lists[0]
}

// assertConsistent checks that document term maps, posting lists and
// document frequencies agree with each other and with the counter.
func assertConsistent(t *testing.T, e *Engine, ids ...int64) {
	t.Helper()
	ctx := context.Background()

	vocab, err := e.MatchTerms(ctx, "*")
	require.NoError(t, err)
	lists, err := e.Postings(ctx, vocab)
	require.NoError(t, err)
	dfs, err := e.DocFrequencies(ctx, vocab)
	require.NoError(t, err)

	fromPostings := make(map[int64]map[string]int64)
	for i, term := range vocab {
		require.NotEmpty(t, lists[i], "term %q has df but no postings", term)
		assert.EqualValues(t, len(lists[i]), dfs[i], "df of %q", term)
		for _, p := range lists[i] {
			if fromPostings[p.DocID] == nil {
				fromPostings[p.DocID] = make(map[string]int64)
			}
			fromPostings[p.DocID][term] = p.Frequency
		}
	}

	var indexed int64
	for _, id := range ids {
		terms, err := e.store.HashGetAll(ctx, e.keys.DocTerms(id))
		require.NoError(t, err)
		if len(terms) > 0 {
			indexed++
		}
		assert.Equal(t, len(terms), len(fromPostings[id]), "doc %d", id)
		for term, tf := range terms {
			assert.Equal(t, tf, fromPostings[id][term], "doc %d term %q", id, term)
		}
	}
	assert.Equal(t, indexed, docCount(t, e))
}

func TestIndexWithoutTermsIsNoop(t *testing.T) {
	e, st := newTestEngine(t)
	for _, content := range []string{"", "<p></p>", "   ", "!!! ...", "the and is 的 了"} {
		t.Run(strconv.Quote(content), func(t *testing.T) {
			outcome := mustIndex(t, e, 2, content)
			assert.Equal(t, OutcomeSkipped, outcome)
			assert.False(t, isIndexed(t, e, 2))
			assert.Zero(t, docCount(t, e))
			assert.Zero(t, st.Len())
		})
	}
}

func TestIndexRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Equal(t, OutcomeCreated, mustIndex(t, e, 1, "quick brown fox"))
	assert.True(t, isIndexed(t, e, 1))
	assert.EqualValues(t, 1, docCount(t, e))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, e, "fox"))
	assertConsistent(t, e, 1)
}

func TestIndexCountsTermFrequency(t *testing.T) {
	e, _ := newTestEngine(t)
	mustIndex(t, e, 3, "python python python")
	mustIndex(t, e, 4, "python tutorial")

	assert.Equal(t, index.PostingList{{DocID: 3, Frequency: 3}, {DocID: 4, Frequency: 1}}, postings(t, e, "python"))
	dfs, err := e.DocFrequencies(context.Background(), []string{"python", "tutorial", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, dfs)
}

func TestIndexExistingIDReplaces(t *testing.T) {
	e, _ := newTestEngine(t)
	mustIndex(t, e, 1, "alpha shared")

	assert.Equal(t, OutcomeReplaced, mustIndex(t, e, 1, "beta shared shared"))
	assert.EqualValues(t, 1, docCount(t, e))
	assert.Empty(t, postings(t, e, "alpha"))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, e, "beta"))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 2}}, postings(t, e, "shared"))
	assertConsistent(t, e, 1)
}

func TestReindexReplacesNotMerges(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustIndex(t, e, 1, "alpha")

	outcome, err := e.Reindex(ctx, 1, "beta")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, outcome)
	assert.Empty(t, postings(t, e, "alpha"))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, e, "beta"))

	vocab, err := e.MatchTerms(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, vocab, "terms with no postings must leave the vocabulary")
	assertConsistent(t, e, 1)
}

func TestReindexWithoutTermsRemoves(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	mustIndex(t, e, 1, "alpha")
	mustIndex(t, e, 2, "gamma")

	outcome, err := e.Reindex(ctx, 1, "<p>the</p>")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)
	assert.False(t, isIndexed(t, e, 1))
	assert.EqualValues(t, 1, docCount(t, e))
	assertConsistent(t, e, 1, 2)

	_, err = e.Deindex(ctx, 2)
	require.NoError(t, err)
	// Only the zeroed counter remains.
	assert.Equal(t, 1, st.Len())
}

func TestReindexUnindexedCreates(t *testing.T) {
	e, _ := newTestEngine(t)
	outcome, err := e.Reindex(context.Background(), 5, "fresh content")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.EqualValues(t, 1, docCount(t, e))

	outcome, err = e.Reindex(context.Background(), 6, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
	assert.EqualValues(t, 1, docCount(t, e))
}

func TestDeindex(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustIndex(t, e, 1, "quick brown fox")
	mustIndex(t, e, 2, "lazy brown dog")

	outcome, err := e.Deindex(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)
	assert.False(t, isIndexed(t, e, 1))
	assert.EqualValues(t, 1, docCount(t, e))
	for _, term := range []string{"quick", "fox"} {
		assert.Empty(t, postings(t, e, term), term)
	}
	assert.Equal(t, index.PostingList{{DocID: 2, Frequency: 1}}, postings(t, e, "brown"))
	assertConsistent(t, e, 1, 2)

	outcome, err = e.Deindex(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
	assert.EqualValues(t, 1, docCount(t, e))

	outcome, err = e.Deindex(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
}

func TestNegativeIDRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Index(context.Background(), -1, "text")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.Reindex(context.Background(), -1, "text")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.Deindex(context.Background(), -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSameIDWriterRaceRetries(t *testing.T) {
	e, st := newTestEngine(t)
	mustIndex(t, e, 1, "original")

	var fired atomic.Bool
	st.BeforeCommit(func() {
		if fired.CompareAndSwap(false, true) {
			// Another writer commits for the same id between our read and commit.
			_, err := e.Index(context.Background(), 1, "intruder")
			require.NoError(t, err)
		}
	})

	outcome := mustIndex(t, e, 1, "winner")
	assert.Equal(t, OutcomeReplaced, outcome)
	assert.True(t, fired.Load())
	assert.EqualValues(t, 1, docCount(t, e))
	assert.Empty(t, postings(t, e, "original"))
	assert.Empty(t, postings(t, e, "intruder"))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, e, "winner"))
	assertConsistent(t, e, 1)
}

func TestSameIDConflictWithoutRetriesSurfaces(t *testing.T) {
	st := memstore.New()
	cfg := testConfig("test:")
	cfg.ConflictRetries = 0
	e := NewEngine(st, tokenizer.New(nil), cfg)

	var fired atomic.Bool
	st.BeforeCommit(func() {
		if fired.CompareAndSwap(false, true) {
			_, err := e.Index(context.Background(), 1, "intruder")
			require.NoError(t, err)
		}
	})

	_, err := e.Index(context.Background(), 1, "loser")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.True(t, apperrors.IsStoreFailure(err))
	assert.EqualValues(t, 1, docCount(t, e))
	assert.Empty(t, postings(t, e, "loser"))
	assertConsistent(t, e, 1)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	st := memstore.New()
	cfg := testConfig("test:")
	cfg.ConflictRetries = 2
	e := NewEngine(st, tokenizer.New(nil), cfg)
	docKey := e.keys.DocTerms(1)

	var attempts atomic.Int32
	var nested atomic.Bool
	st.BeforeCommit(func() {
		if !nested.CompareAndSwap(false, true) {
			return
		}
		defer nested.Store(false)
		attempts.Add(1)
		// Every attempt loses to a writer touching the same document.
		err := st.Update(context.Background(), nil, func(r store.Reader, b store.Batch) error {
			b.HashIncrBy(docKey, "other", 1)
			return nil
		})
		require.NoError(t, err)
	})

	_, err := e.Index(context.Background(), 1, "never lands")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.EqualValues(t, cfg.ConflictRetries+1, attempts.Load())
	assert.Empty(t, postings(t, e, "never"))
	assert.Zero(t, docCount(t, e))
}

func TestConcurrentDistinctIDs(t *testing.T) {
	e, _ := newTestEngine(t)
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := e.Index(context.Background(), id, fmt.Sprintf("shared note %d", id)); err != nil {
				errs <- err
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent index failed: %v", err)
	}

	assert.EqualValues(t, n, docCount(t, e))
	assert.Len(t, postings(t, e, "shared"), n)
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(i)
		assert.Equal(t, index.PostingList{{DocID: int64(i), Frequency: 1}}, postings(t, e, strconv.Itoa(i)))
	}
	assertConsistent(t, e, ids...)
}

func TestConcurrentSameIDStaysConsistent(t *testing.T) {
	e, _ := newTestEngine(t)
	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Conflicts past the retry budget are acceptable here; the
			// index must still be consistent afterwards.
			_, _ = e.Index(context.Background(), 7, fmt.Sprintf("version %d", i))
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, docCount(t, e))
	assert.Len(t, postings(t, e, "version"), 1)
	assertConsistent(t, e, 7)
}

func TestStoreFailurePropagates(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	mustIndex(t, e, 1, "kept")
	st.FailWith(errors.New("connection refused"))

	_, err := e.Index(ctx, 2, "lost")
	assert.True(t, apperrors.IsStoreFailure(err), "got %v", err)
	_, err = e.Reindex(ctx, 1, "lost")
	assert.True(t, apperrors.IsStoreFailure(err), "got %v", err)
	_, err = e.Deindex(ctx, 1)
	assert.True(t, apperrors.IsStoreFailure(err), "got %v", err)
	_, err = e.IsIndexed(ctx, 1)
	assert.True(t, apperrors.IsStoreFailure(err), "got %v", err)
	_, err = e.DocCount(ctx)
	assert.True(t, apperrors.IsStoreFailure(err), "got %v", err)

	st.FailWith(nil)
	assert.EqualValues(t, 1, docCount(t, e))
	assert.True(t, isIndexed(t, e, 1))
	assert.False(t, isIndexed(t, e, 2))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, e, "kept"))
}

func TestCanceledContextPropagates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Index(ctx, 1, "never")
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreFailure(err))
	assert.Zero(t, docCount(t, e))
}

func TestKeyPrefixIsolation(t *testing.T) {
	st := memstore.New()
	prod := NewEngine(st, tokenizer.New(nil), testConfig("prod:"))
	tests := NewEngine(st, tokenizer.New(nil), testConfig("test:"))
	ctx := context.Background()

	_, err := prod.Index(ctx, 1, "production note")
	require.NoError(t, err)
	_, err = tests.Index(ctx, 1, "scratch note")
	require.NoError(t, err)

	n, err := tests.Clear(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	assert.Zero(t, docCount(t, tests))
	assert.EqualValues(t, 1, docCount(t, prod))
	assert.Equal(t, index.PostingList{{DocID: 1, Frequency: 1}}, postings(t, prod, "production"))
}

func TestClearRequiresPrefix(t *testing.T) {
	e := NewEngine(memstore.New(), tokenizer.New(nil), testConfig(""))
	_, err := e.Clear(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMatchTermsEscapesInput(t *testing.T) {
	e, _ := newTestEngine(t)
	mustIndex(t, e, 1, "golang gopher rust")

	terms, err := e.MatchTerms(context.Background(), store.GlobEscape("go")+"*")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "gopher"}, terms)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "absent", OutcomeAbsent.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}

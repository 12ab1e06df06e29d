// Package storetest holds the behavioural contract every store.Store
// implementation must satisfy. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the contract against stores produced by newStore. Each
// subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("MissingKeysReadAsZero", func(t *testing.T) {
		testMissingKeys(t, newStore(t))
	})
	t.Run("BatchApplies", func(t *testing.T) {
		testBatchApplies(t, newStore(t))
	})
	t.Run("EmptyContainersVanish", func(t *testing.T) {
		testEmptyContainersVanish(t, newStore(t))
	})
	t.Run("ScanMembers", func(t *testing.T) {
		testScanMembers(t, newStore(t))
	})
	t.Run("CallbackErrorAbortsBatch", func(t *testing.T) {
		testCallbackError(t, newStore(t))
	})
	t.Run("WatchedKeyConflict", func(t *testing.T) {
		testWatchConflict(t, newStore(t))
	})
	t.Run("DeletePrefix", func(t *testing.T) {
		testDeletePrefix(t, newStore(t))
	})
}

func testMissingKeys(t *testing.T, s store.Store) {
	ctx := context.Background()

	n, err := s.Counter(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := s.HashGetAll(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, h)

	scores, err := s.Scores(ctx, "nope", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, scores)
}

func testBatchApplies(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, []string{"h1"}, func(r store.Reader, b store.Batch) error {
		b.IncrBy("count", 3)
		b.IncrBy("count", -1)
		b.HashSet("h1", "a", 5)
		b.HashIncrBy("h1", "a", 2)
		b.HashSet("h2", "x", 1)
		b.ZIncrBy("z", "alpha", 2)
		b.ZIncrBy("z", "beta", 1)
		return nil
	})
	require.NoError(t, err)

	n, err := s.Counter(ctx, "count")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	hashes, err := s.HashGetAllMulti(ctx, []string{"h1", "h2", "h3"})
	require.NoError(t, err)
	require.Len(t, hashes, 3)
	assert.Equal(t, map[string]int64{"a": 7}, hashes[0])
	assert.Equal(t, map[string]int64{"x": 1}, hashes[1])
	assert.Empty(t, hashes[2])

	scores, err := s.Scores(ctx, "z", []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, scores)
}

func testEmptyContainersVanish(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
		b.HashSet("h", "a", 1)
		b.ZIncrBy("z", "t", 1)
		b.ZIncrBy("z", "u", 2)
		return nil
	}))
	require.NoError(t, s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
		b.HashDel("h", "a")
		b.ZIncrBy("z", "t", -1)
		b.ZIncrBy("z", "u", -1)
		b.ZRemNonPositive("z")
		return nil
	}))

	ok, err := s.Exists(ctx, "h")
	require.NoError(t, err)
	assert.False(t, ok, "hash without fields must not exist")

	members, err := s.ScanMembers(ctx, "z", "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, members)
}

func testScanMembers(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
		for _, m := range []string{"go", "golang", "gopher", "ago", "rust", "a*b"} {
			b.ZIncrBy("vocab", m, 1)
		}
		return nil
	}))

	prefix, err := s.ScanMembers(ctx, "vocab", store.GlobEscape("go")+"*")
	require.NoError(t, err)
	sort.Strings(prefix)
	assert.Equal(t, []string{"go", "golang", "gopher"}, prefix)

	contains, err := s.ScanMembers(ctx, "vocab", "*"+store.GlobEscape("go")+"*")
	require.NoError(t, err)
	sort.Strings(contains)
	assert.Equal(t, []string{"ago", "go", "golang", "gopher"}, contains)

	literal, err := s.ScanMembers(ctx, "vocab", store.GlobEscape("a*")+"*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a*b"}, literal)
}

func testCallbackError(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
		b.IncrBy("count", 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.Counter(ctx, "count")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testWatchConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, []string{"doc"}, func(r store.Reader, b store.Batch) error {
		if _, err := r.HashGetAll(ctx, "doc"); err != nil {
			return err
		}
		// A competing writer commits to the watched key first.
		if err := s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
			b.HashSet("doc", "winner", 1)
			return nil
		}); err != nil {
			return err
		}
		b.HashSet("doc", "loser", 1)
		b.IncrBy("count", 1)
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	h, err := s.HashGetAll(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"winner": 1}, h)

	n, err := s.Counter(ctx, "count")
	require.NoError(t, err)
	assert.Zero(t, n, "aborted batch must leave no partial state")
}

func testDeletePrefix(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, nil, func(r store.Reader, b store.Batch) error {
		b.IncrBy("a:count", 1)
		b.HashSet("a:h", "f", 1)
		b.ZIncrBy("a:z", "m", 1)
		b.IncrBy("b:count", 1)
		return nil
	}))

	n, err := s.DeletePrefix(ctx, "a:")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, key := range []string{"a:count", "a:h", "a:z"} {
		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	ok, err := s.Exists(ctx, "b:count")
	require.NoError(t, err)
	assert.True(t, ok)
}

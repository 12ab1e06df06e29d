package redisstore

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEngineOverRedis runs the write and query paths against a Redis server
// instead of the in-memory store.
func TestEngineOverRedis(t *testing.T) {
	s, mr := newTestStore(t)
	cfg := config.Default().Search
	cfg.KeyPrefix = "test:fts:"
	engine := indexer.NewEngine(s, tokenizer.New(nil), cfg)
	exec := executor.New(engine, cfg)
	ctx := context.Background()

	for id, content := range map[int64]string{
		1: "<p>machine learning algorithm</p>",
		2: "machine learning",
		3: "python python python",
		4: "python tutorial",
	} {
		outcome, err := engine.Index(ctx, id, content)
		require.NoError(t, err)
		assert.Equal(t, indexer.OutcomeCreated, outcome)
	}

	res, err := exec.Search(ctx, "machine learning", false, 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.EqualValues(t, 1, res.Results[0].ID)

	res, err = exec.Search(ctx, "pyth", true, 10)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.EqualValues(t, 3, res.Results[0].ID)
	assert.Equal(t, []string{"python"}, res.Expanded["pyth"])

	outcome, err := engine.Reindex(ctx, 4, "rust tutorial")
	require.NoError(t, err)
	assert.Equal(t, indexer.OutcomeReplaced, outcome)
	assert.Equal(t, "1", mr.HGet("test:fts:token:python:docs", "3"))
	assert.Empty(t, mr.HGet("test:fts:token:python:docs", "4"))

	outcome, err = engine.Deindex(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, indexer.OutcomeRemoved, outcome)
	assert.False(t, mr.Exists("test:fts:token:python:docs"))
	_, err = mr.ZScore("test:fts:terms", "python")
	assert.Error(t, err, "vocabulary must drop terms without postings")

	n, err := engine.DocCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	cleared, err := engine.Clear(ctx)
	require.NoError(t, err)
	assert.Positive(t, cleared)
	assert.Empty(t, mr.Keys())
}

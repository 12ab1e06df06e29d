// Package executor runs search queries against the inverted index: analyse,
// resolve postings with optional partial-match fallback, rank.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/sync/singleflight"
)

// Index is the read side of the inverted index. *indexer.Engine implements it.
type Index interface {
	Analyzer() tokenizer.Analyzer
	DocCount(ctx context.Context) (int64, error)
	Postings(ctx context.Context, terms []string) ([]index.PostingList, error)
	MatchTerms(ctx context.Context, pattern string) ([]string, error)
}

type SearchResult struct {
	Query     string             `json:"query"`
	Tokens    []string           `json:"tokens"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	// TermStats is the document frequency each token resolved to.
	TermStats map[string]int `json:"term_stats"`
	// Expanded lists, for tokens resolved by partial matching, the indexed
	// terms whose postings were used.
	Expanded map[string][]string `json:"expanded,omitempty"`
}

type Executor struct {
	idx      Index
	partial  bool
	strategy string
	max      int
	group    singleflight.Group
	logger   *slog.Logger
}

func New(idx Index, cfg config.SearchConfig) *Executor {
	return &Executor{
		idx:      idx,
		partial:  cfg.PartialMatch,
		strategy: cfg.MatchStrategy,
		max:      cfg.MaxResults,
		logger:   logger.WithComponent("query-executor"),
	}
}

// PartialMatchDefault is the configured partial-match setting, used when a
// caller does not choose one.
func (e *Executor) PartialMatchDefault() bool {
	return e.partial
}

// Search ranks the documents matching query. A limit outside (0, max] means
// the configured maximum. Identical concurrent searches share one execution,
// so the returned result must be treated as read-only.
func (e *Executor) Search(ctx context.Context, query string, partial bool, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > e.max {
		limit = e.max
	}
	key := fmt.Sprintf("%t\x00%d\x00%s", partial, limit, query)
	ch := e.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller giving up does not fail the others.
		return e.search(context.WithoutCancel(ctx), query, partial, limit)
	})
	select {
	case <-ctx.Done():
		return nil, apperrors.StoreFailure("searching", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SearchResult), nil
	}
}

func (e *Executor) search(ctx context.Context, query string, partial bool, limit int) (*SearchResult, error) {
	start := time.Now()
	tokens := e.idx.Analyzer().Analyze(query)
	result := &SearchResult{
		Query:     query,
		Tokens:    tokens,
		Results:   []ranker.ScoredDoc{},
		TermStats: make(map[string]int),
	}
	if len(tokens) == 0 {
		return result, nil
	}

	totalDocs, err := e.idx.DocCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading document count: %w", err)
	}
	if totalDocs <= 0 {
		return result, nil
	}

	terms := distinct(tokens)
	lists, err := e.idx.Postings(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	postingsPerTerm := make(map[string]index.PostingList, len(terms))
	for i, term := range terms {
		if len(lists[i]) > 0 {
			postingsPerTerm[term] = lists[i]
			continue
		}
		if !partial {
			continue
		}
		matched, merged, err := e.expand(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("partial match for %q: %w", term, err)
		}
		if len(merged) > 0 {
			postingsPerTerm[term] = merged
			if result.Expanded == nil {
				result.Expanded = make(map[string][]string)
			}
			result.Expanded[term] = matched
		}
	}

	candidates := roaring64.New()
	for term, postings := range postingsPerTerm {
		result.TermStats[term] = len(postings)
		for _, p := range postings {
			candidates.Add(uint64(p.DocID))
		}
	}
	result.TotalHits = int(candidates.GetCardinality())
	result.Results = ranker.Rank(postingsPerTerm, ranker.RankParams{TotalDocs: totalDocs}, limit)

	e.logger.Info("query executed",
		"query", query,
		"terms", terms,
		"partial", partial,
		"candidates", result.TotalHits,
		"results", len(result.Results),
		"duration", time.Since(start),
	)
	return result, nil
}

// expand resolves a token with no exact postings against the vocabulary.
// The token's postings become the union of every matched term's postings,
// frequencies summed per document.
func (e *Executor) expand(ctx context.Context, token string) ([]string, index.PostingList, error) {
	matched, err := e.idx.MatchTerms(ctx, e.pattern(token))
	if err != nil {
		return nil, nil, err
	}
	if len(matched) == 0 {
		return nil, nil, nil
	}
	lists, err := e.idx.Postings(ctx, matched)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("partial match", "token", token, "strategy", e.strategy, "matched", matched)
	return matched, index.Merge(lists...), nil
}

func (e *Executor) pattern(token string) string {
	escaped := store.GlobEscape(token)
	if e.strategy == config.MatchSubstring {
		return "*" + escaped + "*"
	}
	return escaped + "*"
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

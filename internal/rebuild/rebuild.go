// Package rebuild recreates the index from the posts table: the index is
// cleared, then every live post is indexed by a bounded pool of workers.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

type Index interface {
	Clear(ctx context.Context) (int64, error)
	Index(ctx context.Context, id int64, content string) (indexer.Outcome, error)
}

// Failure is a post that could not be indexed.
type Failure struct {
	ID  int64
	Err error
}

type Report struct {
	Total       int
	Indexed     int
	Skipped     int
	KeysCleared int64
	Failures    []Failure
	Duration    time.Duration
}

type Rebuilder struct {
	index   Index
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Rebuilder indexing with up to workers concurrent writes.
// m may be nil.
func New(idx Index, workers int, m *metrics.Metrics) *Rebuilder {
	if workers <= 0 {
		workers = 1
	}
	return &Rebuilder{
		index:   idx,
		workers: workers,
		metrics: m,
		logger:  logger.WithComponent("rebuild"),
	}
}

// Run clears the index and indexes every post from src. Individual post
// failures are collected in the report; only a failing clear or source
// aborts the run.
func (r *Rebuilder) Run(ctx context.Context, src Source) (*Report, error) {
	start := time.Now()
	report := &Report{}

	cleared, err := r.index.Clear(ctx)
	if err != nil {
		return nil, fmt.Errorf("clearing index: %w", err)
	}
	report.KeysCleared = cleared
	r.logger.Info("index cleared, rebuilding", "keys_deleted", cleared, "workers", r.workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	err = src.Each(gctx, func(p Post) error {
		mu.Lock()
		report.Total++
		mu.Unlock()
		g.Go(func() error {
			outcome, err := r.index.Index(gctx, p.ID, p.Content)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failures = append(report.Failures, Failure{ID: p.ID, Err: err})
				r.observe("failed")
				r.logger.Warn("post not indexed", "doc_id", p.ID, "error", err)
			case outcome == indexer.OutcomeSkipped:
				report.Skipped++
				r.observe(outcome.String())
			default:
				report.Indexed++
				r.observe(outcome.String())
			}
			return nil
		})
		return nil
	})
	waitErr := g.Wait()
	report.Duration = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("streaming posts: %w", err)
	}
	if waitErr != nil {
		return report, waitErr
	}

	r.logger.Info("rebuild finished",
		"total", report.Total,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"duration", report.Duration,
	)
	return report, nil
}

func (r *Rebuilder) observe(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RebuildDocsTotal.WithLabelValues(outcome).Inc()
}

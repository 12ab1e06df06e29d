// Package indexer maintains the inverted index: term → posting list,
// document → term frequencies, the document counter and per-term document
// frequencies, all kept in a store.Store and changed only through atomic
// batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
)

// Outcome tells the caller what a write did to a document's index entry.
type Outcome int

const (
	// OutcomeSkipped: the content analysed to no terms and the document was
	// not indexed, so nothing changed.
	OutcomeSkipped Outcome = iota
	// OutcomeCreated: the document was not indexed before and now is.
	OutcomeCreated
	// OutcomeReplaced: the document's previous postings were swapped for new ones.
	OutcomeReplaced
	// OutcomeRemoved: the document was indexed and no longer is.
	OutcomeRemoved
	// OutcomeAbsent: removal was requested for a document that was not indexed.
	OutcomeAbsent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCreated:
		return "created"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeRemoved:
		return "removed"
	case OutcomeAbsent:
		return "absent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Engine is safe for concurrent use. Writes for different documents never
// contend; writes for the same document are serialised by the store's
// optimistic check on that document's term map.
type Engine struct {
	store    store.Store
	analyzer tokenizer.Analyzer
	keys     store.Keys
	retries  int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewEngine(st store.Store, analyzer tokenizer.Analyzer, cfg config.SearchConfig) *Engine {
	return &Engine{
		store:    st,
		analyzer: analyzer,
		keys:     store.NewKeys(cfg.KeyPrefix),
		retries:  cfg.ConflictRetries,
		timeout:  cfg.OperationTimeout,
		logger:   logger.WithComponent("indexer"),
	}
}

// Analyzer returns the analyzer documents are indexed with. Queries must use
// the same one.
func (e *Engine) Analyzer() tokenizer.Analyzer {
	return e.analyzer
}

// Index adds content under id. Content without terms is a no-op; an id that
// is already indexed has its entry replaced. Concurrent writes to the same id
// are retried up to the configured conflict limit, after which the error
// wraps ErrConflict.
func (e *Engine) Index(ctx context.Context, id int64, content string) (Outcome, error) {
	if err := validateID(id); err != nil {
		return OutcomeSkipped, err
	}
	freqs := index.TermFrequencies(e.analyzer.Analyze(content))
	if len(freqs) == 0 {
		e.logger.Debug("content has no terms, not indexing", "doc_id", id)
		return OutcomeSkipped, nil
	}
	return e.write(ctx, id, freqs)
}

// Reindex replaces the entry of id with the terms of content in one batch.
// Content without terms removes the entry.
func (e *Engine) Reindex(ctx context.Context, id int64, content string) (Outcome, error) {
	if err := validateID(id); err != nil {
		return OutcomeSkipped, err
	}
	return e.write(ctx, id, index.TermFrequencies(e.analyzer.Analyze(content)))
}

// Deindex erases every posting of id. Unknown ids yield OutcomeAbsent.
func (e *Engine) Deindex(ctx context.Context, id int64) (Outcome, error) {
	if err := validateID(id); err != nil {
		return OutcomeSkipped, err
	}
	return e.write(ctx, id, nil)
}

// IsIndexed reports whether id has at least one posting.
func (e *Engine) IsIndexed(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.Exists(ctx, e.keys.DocTerms(id))
}

// DocCount returns the authoritative number of indexed documents.
func (e *Engine) DocCount(ctx context.Context) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.Counter(ctx, e.keys.DocCount())
}

// Clear drops every key of this index. Other prefixes sharing the store are
// untouched.
func (e *Engine) Clear(ctx context.Context) (int64, error) {
	if e.keys.Prefix() == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "refusing to clear an index without a key prefix")
	}
	n, err := e.store.DeletePrefix(ctx, e.keys.Prefix())
	if err != nil {
		return n, err
	}
	e.logger.Info("index cleared", "prefix", e.keys.Prefix(), "keys_deleted", n)
	return n, nil
}

// write moves the entry of id to freqs (nil or empty meaning "not indexed").
// The batch is guarded by the document's term map so two writers of the same
// id cannot both apply against the same previous state. A writer that loses
// that race has applied nothing; it re-reads and tries again, at most
// search.conflictRetries more times, then returns an error wrapping
// ErrConflict. Store failures are returned at once and never retried here.
func (e *Engine) write(ctx context.Context, id int64, freqs map[string]int64) (Outcome, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	docKey := e.keys.DocTerms(id)
	var outcome Outcome
	for attempt := 0; ; attempt++ {
		err := e.store.Update(ctx, []string{docKey}, func(r store.Reader, b store.Batch) error {
			old, err := r.HashGetAll(ctx, docKey)
			if err != nil {
				return err
			}
			outcome = e.plan(b, id, old, freqs)
			return nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrConflict) || attempt >= e.retries {
			e.logger.Warn("index write failed", "doc_id", id, "attempt", attempt+1, "error", err)
			return OutcomeSkipped, err
		}
		e.logger.Debug("document changed concurrently, retrying", "doc_id", id, "attempt", attempt+1)
	}

	e.logger.Debug("index entry written", "doc_id", id, "outcome", outcome.String(), "terms", len(freqs))
	return outcome, nil
}

// plan queues the ops that take the entry of id from old to next.
func (e *Engine) plan(b store.Batch, id int64, old, next map[string]int64) Outcome {
	docKey := e.keys.DocTerms(id)
	field := store.DocField(id)
	vocab := e.keys.Vocabulary()

	var outcome Outcome
	switch {
	case len(old) == 0 && len(next) == 0:
		return OutcomeAbsent
	case len(old) == 0:
		b.IncrBy(e.keys.DocCount(), 1)
		outcome = OutcomeCreated
	case len(next) == 0:
		b.IncrBy(e.keys.DocCount(), -1)
		b.Del(docKey)
		outcome = OutcomeRemoved
	default:
		outcome = OutcomeReplaced
	}

	var dropped []string
	for _, term := range sortedTerms(old) {
		if _, kept := next[term]; kept {
			continue
		}
		dropped = append(dropped, term)
		b.HashDel(e.keys.Postings(term), field)
		b.ZIncrBy(vocab, term, -1)
	}
	if len(dropped) > 0 {
		if outcome == OutcomeReplaced {
			b.HashDel(docKey, dropped...)
		}
		b.ZRemNonPositive(vocab)
	}

	for _, term := range sortedTerms(next) {
		tf := next[term]
		b.HashSet(docKey, term, tf)
		b.HashSet(e.keys.Postings(term), field, tf)
		if _, had := old[term]; !had {
			b.ZIncrBy(vocab, term, 1)
		}
	}
	return outcome
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func validateID(id int64) error {
	if id < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id %d is negative", id)
	}
	return nil
}

func sortedTerms(freqs map[string]int64) []string {
	terms := make([]string, 0, len(freqs))
	for term := range freqs {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

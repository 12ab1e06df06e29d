package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
)

// Postings returns the posting list of each term, read in one snapshot.
// Unknown terms yield an empty list at their position.
func (e *Engine) Postings(ctx context.Context, terms []string) ([]index.PostingList, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	keys := make([]string, len(terms))
	for i, term := range terms {
		keys[i] = e.keys.Postings(term)
	}
	hashes, err := e.store.HashGetAllMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	lists := make([]index.PostingList, len(terms))
	for i, h := range hashes {
		freqs := make(map[int64]int64, len(h))
		for field, tf := range h {
			docID, err := store.ParseDocField(field)
			if err != nil {
				return nil, fmt.Errorf("posting list of %q has bad document field %q: %w", terms[i], field, err)
			}
			freqs[docID] = tf
		}
		lists[i] = index.FromFrequencies(freqs)
	}
	return lists, nil
}

// DocFrequencies returns the document frequency of each term as kept in the
// vocabulary set. Ranking does not read it: the set exists for partial-match
// scans, and a fallback token's frequency is the size of a merged posting
// list that the set cannot hold. It always equals the length of the term's
// posting list, which consistency checks rely on.
func (e *Engine) DocFrequencies(ctx context.Context, terms []string) ([]int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.store.Scores(ctx, e.keys.Vocabulary(), terms)
}

// MatchTerms lists vocabulary terms matching a glob pattern, sorted.
// Callers escape user input with store.GlobEscape.
func (e *Engine) MatchTerms(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	terms, err := e.store.ScanMembers(ctx, e.keys.Vocabulary(), pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(terms)
	return terms, nil
}

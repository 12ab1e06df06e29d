// Package ranker scores candidate documents with TF-IDF.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer/index"
)

type ScoredDoc struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
	// Matched is the number of query terms the document contains.
	Matched int `json:"-"`
}

type RankParams struct {
	TotalDocs int64
}

// Rank sums tf × idf over the query terms for every document in the given
// posting lists. The document frequency of a term is the length of its
// list. Documents matching more query terms always come first, so one
// containing every term outranks one containing a strict subset whatever
// their frequencies. Within the same coverage results are ordered by score,
// ties by ascending id, and cut to limit when limit > 0.
func Rank(postingsPerTerm map[string]index.PostingList, params RankParams, limit int) []ScoredDoc {
	if params.TotalDocs <= 0 {
		return []ScoredDoc{}
	}
	scores := make(map[int64]float64)
	matched := make(map[int64]int)
	for _, postings := range postingsPerTerm {
		idf := computeIDF(params.TotalDocs, int64(len(postings)))
		if idf == 0 {
			continue
		}
		for _, posting := range postings {
			scores[posting.DocID] += float64(posting.Frequency) * idf
			matched[posting.DocID]++
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{
			ID:      docID,
			Score:   math.Round(score*10000) / 10000,
			Matched: matched[docID],
		})
	}
	Sort(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Sort orders docs by descending term coverage, then descending score, then
// ascending id.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Matched != docs[j].Matched {
			return docs[i].Matched > docs[j].Matched
		}
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}

// computeIDF is ln(1 + N/df). The +1 keeps a term that appears in every
// document from scoring zero, so frequency still separates such documents.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	if totalDocs <= 0 || docFreq <= 0 {
		return 0
	}
	return math.Log1p(float64(totalDocs) / float64(docFreq))
}

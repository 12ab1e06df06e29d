// Package index holds the posting types shared by the indexer and searcher.
package index

import "sort"

// Posting ties a document to one term with the term's frequency in it.
type Posting struct {
	DocID     int64
	Frequency int64
}

// PostingList is every posting of one term, ordered by DocID.
type PostingList []Posting

// FromFrequencies builds a DocID-ordered list from a docID → tf map.
func FromFrequencies(freqs map[int64]int64) PostingList {
	list := make(PostingList, 0, len(freqs))
	for docID, tf := range freqs {
		list = append(list, Posting{DocID: docID, Frequency: tf})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].DocID < list[j].DocID
	})
	return list
}

// Merge unions several lists; a document present in more than one list gets
// the sum of its frequencies.
func Merge(lists ...PostingList) PostingList {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return lists[0]
	}
	freqs := make(map[int64]int64)
	for _, list := range lists {
		for _, p := range list {
			freqs[p.DocID] += p.Frequency
		}
	}
	return FromFrequencies(freqs)
}

// TermFrequencies counts each term of an analysed token stream.
func TermFrequencies(terms []string) map[string]int64 {
	freqs := make(map[string]int64, len(terms))
	for _, term := range terms {
		freqs[term]++
	}
	return freqs
}

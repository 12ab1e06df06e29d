// Package tokenizer turns HTML or plain text into the ordered list of
// normalised terms the index stores. Markup is stripped, the text is folded
// with NFKC, and it is split along script boundaries: Han runs go through a
// dictionary segmenter, letter runs are lower-cased, digit runs stand alone.
// Punctuation never becomes a term and stop-words are dropped.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "can": {}, "for": {}, "from": {}, "have": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "may": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "tbd": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "us": {}, "we": {}, "when": {}, "will": {},
	"with": {}, "yet": {}, "you": {}, "your": {},
}

var stopWordsCJK = map[string]struct{}{
	"的": {}, "了": {}, "着": {}, "和": {}, "与": {},
}

// Analyzer is the text → terms contract shared by indexing and querying.
// Implementations must be deterministic and safe for concurrent use.
type Analyzer interface {
	Analyze(text string) []string
}

// Segmenter splits a run of Han characters into dictionary words.
type Segmenter interface {
	Segment(run string) []string
}

// Tokenizer is the default Analyzer.
type Tokenizer struct {
	seg Segmenter
}

var _ Analyzer = (*Tokenizer)(nil)

// New returns a Tokenizer that hands Han runs to seg. A nil seg keeps each
// Han run as a single term.
func New(seg Segmenter) *Tokenizer {
	return &Tokenizer{seg: seg}
}

// Analyze returns the terms of text in order, duplicates included.
func (t *Tokenizer) Analyze(text string) []string {
	text = norm.NFKC.String(StripHTML(text))
	terms := make([]string, 0, len(text)/6)
	for _, run := range splitRuns(text) {
		switch run.class {
		case classHan:
			for _, word := range t.segment(run.text) {
				terms = appendTerm(terms, word)
			}
		case classLetter:
			terms = appendTerm(terms, strings.ToLower(run.text))
		case classDigit:
			terms = appendTerm(terms, run.text)
		}
	}
	return terms
}

func (t *Tokenizer) segment(run string) []string {
	if t.seg == nil {
		return []string{run}
	}
	return t.seg.Segment(run)
}

func appendTerm(terms []string, term string) []string {
	term = strings.TrimSpace(term)
	if term == "" || isPunctuation(term) || IsStopWord(term) {
		return terms
	}
	return append(terms, term)
}

// IsStopWord reports whether term is in the English or Chinese stop list.
func IsStopWord(term string) bool {
	if _, ok := stopWords[term]; ok {
		return true
	}
	_, ok := stopWordsCJK[term]
	return ok
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

type runClass int

const (
	classBoundary runClass = iota
	classHan
	classLetter
	classDigit
)

type run struct {
	class runClass
	text  string
}

func classify(r rune) runClass {
	switch {
	case unicode.Is(unicode.Han, r):
		return classHan
	case unicode.IsLetter(r):
		return classLetter
	case unicode.IsDigit(r):
		return classDigit
	default:
		return classBoundary
	}
}

// splitRuns cuts text into maximal runs of one script class. Combining marks
// stay with the letter run they follow.
func splitRuns(text string) []run {
	var runs []run
	start := -1
	current := classBoundary
	flush := func(end int) {
		if start >= 0 && current != classBoundary {
			runs = append(runs, run{class: current, text: text[start:end]})
		}
		start = -1
		current = classBoundary
	}
	for i, r := range text {
		class := classify(r)
		if class == classBoundary && current == classLetter && unicode.Is(unicode.Mn, r) {
			continue
		}
		if class != current {
			flush(i)
			if class != classBoundary {
				start = i
				current = class
			}
		}
	}
	flush(len(text))
	return runs
}

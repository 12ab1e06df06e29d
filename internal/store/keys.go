package store

import (
	"strconv"
)

// Keys builds the namespaced key layout of one logical index:
//
//	<prefix>doc:count          counter of indexed documents
//	<prefix>doc:<id>:tokens    hash term -> tf for one document
//	<prefix>token:<term>:docs  hash docID -> tf (posting list)
//	<prefix>terms              scored set term -> document frequency
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

func (k Keys) Prefix() string {
	return k.prefix
}

func (k Keys) DocCount() string {
	return k.prefix + "doc:count"
}

func (k Keys) DocTerms(id int64) string {
	return k.prefix + "doc:" + strconv.FormatInt(id, 10) + ":tokens"
}

func (k Keys) Postings(term string) string {
	return k.prefix + "token:" + term + ":docs"
}

func (k Keys) Vocabulary() string {
	return k.prefix + "terms"
}

// DocField is the posting-hash field for a document id.
func DocField(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseDocField reverses DocField.
func ParseDocField(field string) (int64, error) {
	return strconv.ParseInt(field, 10, 64)
}

// Package store defines the key-value primitives the inverted index is built
// on: counters, integer hashes, scored sets, multi-get, and an atomic batch
// with optimistic reads. Implementations live in redisstore (production) and
// memstore (tests and local development).
package store

import (
	"context"
	"strings"
)

// Reader exposes the read primitives. Missing keys read as zero values.
type Reader interface {
	Counter(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	HashGetAll(ctx context.Context, key string) (map[string]int64, error)
	// HashGetAllMulti reads several hashes as one consistent snapshot.
	HashGetAllMulti(ctx context.Context, keys []string) ([]map[string]int64, error)
	// Scores returns the score of each member, 0 when absent.
	Scores(ctx context.Context, key string, members []string) ([]int64, error)
	// ScanMembers returns the members of a scored set matching a glob pattern.
	ScanMembers(ctx context.Context, key string, pattern string) ([]string, error)
}

// Batch queues writes that are applied together or not at all.
type Batch interface {
	IncrBy(key string, delta int64)
	HashSet(key, field string, value int64)
	HashIncrBy(key, field string, delta int64)
	HashDel(key string, fields ...string)
	Del(keys ...string)
	ZIncrBy(key, member string, delta int64)
	// ZRemNonPositive drops every member whose score is <= 0.
	ZRemNonPositive(key string)
}

// UpdateFunc reads through r and queues writes on b. Returning an error
// aborts the update without applying anything.
type UpdateFunc func(r Reader, b Batch) error

// Store is the full index store contract.
type Store interface {
	Reader
	// Update runs fn and commits the queued batch atomically. If any key in
	// watch changed between fn's reads and the commit, nothing is applied and
	// the error wraps errors.ErrConflict.
	Update(ctx context.Context, watch []string, fn UpdateFunc) error
	// DeletePrefix removes every key starting with prefix. Not atomic.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Ping(ctx context.Context) error
}

// OpKind identifies a queued write.
type OpKind int

const (
	OpIncrBy OpKind = iota
	OpHashSet
	OpHashIncrBy
	OpHashDel
	OpDel
	OpZIncrBy
	OpZRemNonPositive
)

// Op is one queued write. Fields holds hash fields for OpHashDel and keys
// for OpDel; Field holds the hash field or set member otherwise.
type Op struct {
	Kind   OpKind
	Key    string
	Field  string
	Fields []string
	Value  int64
}

// Ops records a Batch so an implementation can replay it inside its own
// transaction primitive.
type Ops struct {
	ops []Op
}

var _ Batch = (*Ops)(nil)

func (o *Ops) IncrBy(key string, delta int64) {
	o.ops = append(o.ops, Op{Kind: OpIncrBy, Key: key, Value: delta})
}

func (o *Ops) HashSet(key, field string, value int64) {
	o.ops = append(o.ops, Op{Kind: OpHashSet, Key: key, Field: field, Value: value})
}

func (o *Ops) HashIncrBy(key, field string, delta int64) {
	o.ops = append(o.ops, Op{Kind: OpHashIncrBy, Key: key, Field: field, Value: delta})
}

func (o *Ops) HashDel(key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	o.ops = append(o.ops, Op{Kind: OpHashDel, Key: key, Fields: fields})
}

func (o *Ops) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	o.ops = append(o.ops, Op{Kind: OpDel, Fields: keys})
}

func (o *Ops) ZIncrBy(key, member string, delta int64) {
	o.ops = append(o.ops, Op{Kind: OpZIncrBy, Key: key, Field: member, Value: delta})
}

func (o *Ops) ZRemNonPositive(key string) {
	o.ops = append(o.ops, Op{Kind: OpZRemNonPositive, Key: key})
}

// Len returns the number of queued writes.
func (o *Ops) Len() int {
	return len(o.ops)
}

// Each calls fn for every queued write in order.
func (o *Ops) Each(fn func(Op)) {
	for _, op := range o.ops {
		fn(op)
	}
}

// Touched returns every key a replay would modify.
func (o *Ops) Touched() []string {
	keys := make([]string, 0, len(o.ops))
	for _, op := range o.ops {
		if op.Kind == OpDel {
			keys = append(keys, op.Fields...)
			continue
		}
		keys = append(keys, op.Key)
	}
	return keys
}

var globReplacer = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// GlobEscape quotes s so it matches literally inside a glob pattern.
func GlobEscape(s string) string {
	return globReplacer.Replace(s)
}

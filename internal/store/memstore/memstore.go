// Package memstore is an in-process store.Store with the same semantics as
// the Redis adapter: per-key versions emulate WATCH, hashes and scored sets
// disappear when their last member goes, and batches apply under one lock.
package memstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
)

var _ store.Store = (*Store)(nil)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	counters map[string]int64
	hashes   map[string]map[string]int64
	zsets    map[string]map[string]int64
	versions map[string]uint64
	failure  error
	// beforeCommit runs between an update's reads and its commit; tests use
	// it to interleave a competing writer.
	beforeCommit func()
}

func New() *Store {
	return &Store{
		counters: make(map[string]int64),
		hashes:   make(map[string]map[string]int64),
		zsets:    make(map[string]map[string]int64),
		versions: make(map[string]uint64),
	}
}

// FailWith makes every subsequent call fail with err wrapped as a store
// failure, simulating an unreachable cache. FailWith(nil) heals the store.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// BeforeCommit installs a hook that runs once per Update after fn returns
// and before the watched versions are checked.
func (s *Store) BeforeCommit(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = hook
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters) + len(s.hashes) + len(s.zsets)
}

func (s *Store) fail(op string) error {
	if s.failure != nil {
		return apperrors.StoreFailure(op, s.failure)
	}
	return nil
}

func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("reading counter"); err != nil {
		return 0, err
	}
	return s.counters[key], ctx.Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("checking key"); err != nil {
		return false, err
	}
	if _, ok := s.counters[key]; ok {
		return true, nil
	}
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	_, ok := s.zsets[key]
	return ok, ctx.Err()
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("reading hash"); err != nil {
		return nil, err
	}
	return copyHash(s.hashes[key]), ctx.Err()
}

func (s *Store) HashGetAllMulti(ctx context.Context, keys []string) ([]map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("reading hashes"); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]map[string]int64, len(keys))
	for i, key := range keys {
		out[i] = copyHash(s.hashes[key])
	}
	return out, ctx.Err()
}

func (s *Store) Scores(ctx context.Context, key string, members []string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("reading scores"); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	out := make([]int64, len(members))
	set := s.zsets[key]
	for i, member := range members {
		out[i] = set[member]
	}
	return out, ctx.Err()
}

func (s *Store) ScanMembers(ctx context.Context, key string, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("scanning members"); err != nil {
		return nil, err
	}
	var members []string
	for member := range s.zsets[key] {
		ok, err := path.Match(pattern, member)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			members = append(members, member)
		}
	}
	return members, ctx.Err()
}

func (s *Store) Update(ctx context.Context, watch []string, fn store.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return apperrors.StoreFailure("committing batch", err)
	}
	s.mu.RLock()
	if err := s.fail("committing batch"); err != nil {
		s.mu.RUnlock()
		return err
	}
	seen := make(map[string]uint64, len(watch))
	for _, key := range watch {
		seen[key] = s.versions[key]
	}
	hook := s.beforeCommit
	s.mu.RUnlock()

	ops := &store.Ops{}
	if err := fn(s, ops); err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	if ops.Len() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("committing batch"); err != nil {
		return err
	}
	for key, version := range seen {
		if s.versions[key] != version {
			return fmt.Errorf("committing batch: %w", apperrors.ErrConflict)
		}
	}
	ops.Each(s.apply)
	for _, key := range ops.Touched() {
		s.versions[key]++
	}
	return nil
}

// apply must be called with s.mu held.
func (s *Store) apply(op store.Op) {
	switch op.Kind {
	case store.OpIncrBy:
		s.counters[op.Key] += op.Value
	case store.OpHashSet:
		s.hash(op.Key)[op.Field] = op.Value
	case store.OpHashIncrBy:
		s.hash(op.Key)[op.Field] += op.Value
	case store.OpHashDel:
		h := s.hashes[op.Key]
		for _, field := range op.Fields {
			delete(h, field)
		}
		if len(h) == 0 {
			delete(s.hashes, op.Key)
		}
	case store.OpDel:
		for _, key := range op.Fields {
			delete(s.counters, key)
			delete(s.hashes, key)
			delete(s.zsets, key)
		}
	case store.OpZIncrBy:
		set, ok := s.zsets[op.Key]
		if !ok {
			set = make(map[string]int64)
			s.zsets[op.Key] = set
		}
		set[op.Field] += op.Value
	case store.OpZRemNonPositive:
		set := s.zsets[op.Key]
		for member, score := range set {
			if score <= 0 {
				delete(set, member)
			}
		}
		if len(set) == 0 {
			delete(s.zsets, op.Key)
		}
	}
}

func (s *Store) hash(key string) map[string]int64 {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]int64)
		s.hashes[key] = h
	}
	return h
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("deleting prefix"); err != nil {
		return 0, err
	}
	var n int64
	for key := range s.counters {
		if strings.HasPrefix(key, prefix) {
			delete(s.counters, key)
			s.versions[key]++
			n++
		}
	}
	for key := range s.hashes {
		if strings.HasPrefix(key, prefix) {
			delete(s.hashes, key)
			s.versions[key]++
			n++
		}
	}
	for key := range s.zsets {
		if strings.HasPrefix(key, prefix) {
			delete(s.zsets, key)
			s.versions[key]++
			n++
		}
	}
	return n, ctx.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ping"); err != nil {
		return err
	}
	return ctx.Err()
}

func copyHash(h map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

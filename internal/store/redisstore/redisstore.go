// Package redisstore implements store.Store on Redis. Updates use WATCH on
// the caller's keys followed by MULTI/EXEC, so a batch is applied whole or
// not at all; multi-key reads outside an update run inside MULTI/EXEC to get
// a single consistent snapshot.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const scanCount = 200

var _ store.Store = (*Store)(nil)

// cmdable is the subset of commands shared by *redis.Client and *redis.Tx.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Store is a Redis-backed store.Store.
type Store struct {
	client *pkgredis.Client
	reader
}

// New wraps an already connected client.
func New(client *pkgredis.Client) *Store {
	return &Store{
		client: client,
		reader: reader{cmd: client.Raw(), snapshot: true},
	}
}

// callbackError carries an UpdateFunc error through go-redis' Watch so it is
// returned untouched instead of being classified as a store failure.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

func (s *Store) Update(ctx context.Context, watch []string, fn store.UpdateFunc) error {
	err := s.client.Raw().Watch(ctx, func(tx *redis.Tx) error {
		ops := &store.Ops{}
		if err := fn(reader{cmd: tx}, ops); err != nil {
			return &callbackError{err: err}
		}
		if ops.Len() == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ops.Each(func(op store.Op) {
				queue(ctx, pipe, op)
			})
			return nil
		})
		return err
	}, watch...)

	var cbErr *callbackError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cbErr):
		return cbErr.err
	case pkgredis.IsTxFailed(err):
		return fmt.Errorf("committing batch: %w", apperrors.ErrConflict)
	default:
		return apperrors.StoreFailure("committing batch", err)
	}
}

func queue(ctx context.Context, pipe redis.Pipeliner, op store.Op) {
	switch op.Kind {
	case store.OpIncrBy:
		pipe.IncrBy(ctx, op.Key, op.Value)
	case store.OpHashSet:
		pipe.HSet(ctx, op.Key, op.Field, op.Value)
	case store.OpHashIncrBy:
		pipe.HIncrBy(ctx, op.Key, op.Field, op.Value)
	case store.OpHashDel:
		pipe.HDel(ctx, op.Key, op.Fields...)
	case store.OpDel:
		pipe.Del(ctx, op.Fields...)
	case store.OpZIncrBy:
		pipe.ZIncrBy(ctx, op.Key, float64(op.Value), op.Field)
	case store.OpZRemNonPositive:
		pipe.ZRemRangeByScore(ctx, op.Key, "-inf", "0")
	}
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	n, err := s.client.DeleteByPattern(ctx, store.GlobEscape(prefix)+"*")
	if err != nil {
		return n, apperrors.StoreFailure("deleting prefix", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return apperrors.StoreFailure("ping", err)
	}
	return nil
}

// reader implements store.Reader over either the pooled client or a watched
// transaction connection. Inside a transaction multi-key reads must not use
// MULTI/EXEC, because EXEC would drop the caller's WATCH.
type reader struct {
	cmd      cmdable
	snapshot bool
}

func (r reader) Counter(ctx context.Context, key string) (int64, error) {
	n, err := r.cmd.Get(ctx, key).Int64()
	if pkgredis.IsNilError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.StoreFailure("reading counter", err)
	}
	return n, nil
}

func (r reader) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.cmd.Exists(ctx, key).Result()
	if err != nil {
		return false, apperrors.StoreFailure("checking key", err)
	}
	return n > 0, nil
}

func (r reader) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperrors.StoreFailure("reading hash", err)
	}
	return parseHash(key, raw)
}

func (r reader) HashGetAllMulti(ctx context.Context, keys []string) ([]map[string]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	queueReads := func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	}
	var err error
	if r.snapshot {
		_, err = r.cmd.TxPipelined(ctx, queueReads)
	} else {
		_, err = r.cmd.Pipelined(ctx, queueReads)
	}
	if err != nil {
		return nil, apperrors.StoreFailure("reading hashes", err)
	}
	out := make([]map[string]int64, len(keys))
	for i, cmd := range cmds {
		parsed, err := parseHash(keys[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}

func (r reader) Scores(ctx context.Context, key string, members []string) ([]int64, error) {
	if len(members) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.FloatCmd, len(members))
	_, err := r.cmd.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			cmds[i] = pipe.ZScore(ctx, key, member)
		}
		return nil
	})
	if err != nil && !pkgredis.IsNilError(err) {
		return nil, apperrors.StoreFailure("reading scores", err)
	}
	out := make([]int64, len(members))
	for i, cmd := range cmds {
		score, err := cmd.Result()
		if pkgredis.IsNilError(err) {
			continue
		}
		if err != nil {
			return nil, apperrors.StoreFailure("reading score", err)
		}
		out[i] = int64(score)
	}
	return out, nil
}

func (r reader) ScanMembers(ctx context.Context, key string, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var members []string
	var cursor uint64
	for {
		page, next, err := r.cmd.ZScan(ctx, key, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, apperrors.StoreFailure("scanning members", err)
		}
		// ZSCAN pages alternate member, score.
		for i := 0; i < len(page); i += 2 {
			if _, dup := seen[page[i]]; dup {
				continue
			}
			seen[page[i]] = struct{}{}
			members = append(members, page[i])
		}
		if next == 0 {
			return members, nil
		}
		cursor = next
	}
}

func parseHash(key string, raw map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hash %s field %s holds non-integer %q: %w", key, field, value, err)
		}
		out[field] = n
	}
	return out, nil
}

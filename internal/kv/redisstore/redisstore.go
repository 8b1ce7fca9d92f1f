// Package redisstore implements kv.Store on top of a Redis client.
//
// It is the only concrete backing store the control plane ships, per
// the "Redis as single source of truth" policy: every domain
// repository (queue, file metadata, rate limiting, archive) is built
// on kv.Store rather than on this package directly, so a second
// implementation could be substituted without touching them.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/kv"
)

// scanCount is the per-round-trip batch size hint for SCAN, matching
// the ~100 the job repository's get_expired/find_by_status rely on to
// stay non-blocking under a large keyspace.
const scanCount = 100

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Store adapts *redis.Client to kv.Store.
type Store struct {
	rdb *redis.Client

	mu      sync.Mutex
	scripts map[string]*redis.Script
}

// New wraps an already-configured *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, scripts: make(map[string]*redis.Script)}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return kv.ErrNotFound
	}
	return fmt.Errorf("%w: %v", kv.ErrTransport, err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrapErr(err)
	}
	return b, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b, ttl)
}

func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.rdb.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (s *Store) ExpireAt(ctx context.Context, key string, at time.Time) error {
	if err := s.rdb.ExpireAt(ctx, key, at).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var cursor uint64
		for {
			keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
			if err != nil {
				yield("", wrapErr(err))
				return
			}
			for _, key := range keys {
				if !yield(key, nil) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

type pipelineResult struct {
	cmd  redis.Cmder
	kind string
	res  *kv.Result
}

type pipeline struct {
	pipe    redis.Pipeliner
	results []pipelineResult
}

func (p *pipeline) Get(key string) *kv.Result {
	res := &kv.Result{}
	cmd := p.pipe.Get(context.Background(), key)
	p.results = append(p.results, pipelineResult{cmd: cmd, kind: "get", res: res})
	return res
}

func (p *pipeline) Set(key string, value []byte, ttl time.Duration) *kv.Result {
	res := &kv.Result{}
	cmd := p.pipe.Set(context.Background(), key, value, ttl)
	p.results = append(p.results, pipelineResult{cmd: cmd, kind: "set", res: res})
	return res
}

func (p *pipeline) Delete(key string) *kv.Result {
	res := &kv.Result{}
	cmd := p.pipe.Del(context.Background(), key)
	p.results = append(p.results, pipelineResult{cmd: cmd, kind: "del", res: res})
	return res
}

// Pipeline batches gets, sets and deletes into one round trip. All-or-
// nothing at the transport level: if the flush itself fails, every
// Result carries that failure; otherwise each Result reflects its own
// command's outcome (a Get miss yields kv.ErrNotFound on that Result
// alone, not a pipeline-wide failure).
func (s *Store) Pipeline(ctx context.Context, fn func(kv.Pipeline)) error {
	pipe := s.rdb.Pipeline()
	p := &pipeline{pipe: pipe}
	fn(p)
	_, err := pipe.Exec(ctx)
	flushErr := err
	if flushErr != nil && !errors.Is(flushErr, redis.Nil) {
		flushErr = wrapErr(flushErr)
	} else {
		flushErr = nil
	}
	for _, r := range p.results {
		if flushErr != nil {
			r.res.Err = flushErr
			continue
		}
		switch cmd := r.cmd.(type) {
		case *redis.StringCmd:
			b, cmdErr := cmd.Bytes()
			if cmdErr != nil {
				r.res.Err = wrapErr(cmdErr)
				continue
			}
			r.res.Value = b
		default:
			if cmdErr := r.cmd.Err(); cmdErr != nil && !errors.Is(cmdErr, redis.Nil) {
				r.res.Err = wrapErr(cmdErr)
			}
		}
	}
	return nil
}

func (s *Store) compiled(script *kv.Script) *redis.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.scripts[script.Source]; ok {
		return rs
	}
	rs := redis.NewScript(script.Source)
	s.scripts[script.Source] = rs
	return rs
}

func (s *Store) EvalScript(ctx context.Context, script *kv.Script, keys []string, args ...any) (any, error) {
	res, err := s.compiled(script).Run(ctx, s.rdb, keys, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, wrapErr(err)
	}
	return res, nil
}

func lockToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WithLock implements a SET-NX/PX spinlock. Acquisition is retried
// with a short fixed backoff until wait elapses; the lock is released
// via a compare-and-delete script so a caller never releases a lease
// it no longer holds (for example, after its own lease expired and
// another holder acquired it).
func (s *Store) WithLock(ctx context.Context, name string, lease, wait time.Duration, fn func(ctx context.Context) error) error {
	key := "lock:" + name
	token := lockToken()
	deadline := time.Now().Add(wait)
	const pollInterval = 20 * time.Millisecond
	for {
		ok, err := s.rdb.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return wrapErr(err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("kv: lock %q not acquired within %s", name, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	defer releaseScript.Run(context.WithoutCancel(ctx), s.rdb, []string{key}, token)
	return fn(ctx)
}

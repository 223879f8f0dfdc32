package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock key only if it still holds our token, so a
// holder whose lock expired cannot release someone else's lock.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// renewScript extends the lock key only while it still holds our token.
const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix       string
	ttl          time.Duration
	lockTTL      time.Duration
	lockInterval time.Duration
}

// WithRedisPrefix sets the key prefix (default "tripgraph:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL expires a thread's log after ttl without appends. Zero keeps
// threads forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.ttl = ttl
	}
}

// WithRedisLockTTL sets how long a thread lock survives a crashed holder
// (default 30s). A live holder renews its lock every third of ttl.
func WithRedisLockTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.lockTTL = ttl
	}
}

// RedisStore is a Redis implementation of Store[S].
//
// Layout, with the default prefix:
//   - tripgraph:thread:<id>  ZSET of checkpoint JSON scored by Seq
//   - tripgraph:index        ZSET of thread ids scored by expiry
//   - tripgraph:lock:<id>    thread lock (SET NX PX, renewed while held)
//
// Appends run in a WATCH/MULTI transaction on the thread key, so a concurrent
// writer makes the loser fail with ErrSequenceConflict instead of forking the
// history.
type RedisStore[S any] struct {
	client *backend.Client
	cfg    redisConfig
}

// NewRedisStore connects to a Redis server.
func NewRedisStore[S any](addr, password string, db int, opts ...RedisOption) *RedisStore[S] {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[S](client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	cfg := redisConfig{
		prefix:       "tripgraph:",
		lockTTL:      30 * time.Second,
		lockInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[S]{client: client, cfg: cfg}
}

func (r *RedisStore[S]) threadKey(threadID string) string {
	return r.cfg.prefix + "thread:" + threadID
}

func (r *RedisStore[S]) indexKey() string {
	return r.cfg.prefix + "index"
}

func (r *RedisStore[S]) lockKey(threadID string) string {
	return r.cfg.prefix + "lock:" + threadID
}

// Append persists a checkpoint (implements Store interface).
func (r *RedisStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := r.threadKey(cp.ThreadID)

	txf := func(tx *backend.Tx) error {
		top, err := tx.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to read latest sequence: %w", err)
		}
		if len(top) > 0 && int(top[0].Score) >= cp.Seq {
			return ErrSequenceConflict
		}

		score := float64(time.Now().Add(r.cfg.ttl).Unix())
		if r.cfg.ttl == 0 {
			score = 4102444800 // 2100-01-01
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.ZAdd(ctx, key, backend.Z{Score: float64(cp.Seq), Member: data})
			if r.cfg.ttl > 0 {
				pipe.Expire(ctx, key, r.cfg.ttl)
			}
			pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: score, Member: cp.ThreadID})
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, backend.TxFailedErr) {
		return ErrSequenceConflict
	}
	if err != nil {
		if errors.Is(err, ErrSequenceConflict) {
			return err
		}
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Latest retrieves the highest-sequence checkpoint for a thread.
func (r *RedisStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]

	vals, err := r.client.ZRevRange(ctx, r.threadKey(threadID), 0, 0).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(vals) == 0 {
		return zero, ErrNotFound
	}

	var cp Checkpoint[S]
	if err := json.Unmarshal([]byte(vals[0]), &cp); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// History retrieves every checkpoint of a thread in ascending order.
func (r *RedisStore[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	vals, err := r.client.ZRange(ctx, r.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	history := make([]Checkpoint[S], 0, len(vals))
	for _, v := range vals {
		var cp Checkpoint[S]
		if err := json.Unmarshal([]byte(v), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		history = append(history, cp)
	}
	return history, nil
}

// Lock acquires a distributed lock for the thread using SET NX PX.
//
// The lock value is a random token. While the lock is held a watchdog
// extends its TTL, so steps longer than the lock TTL stay serialized; the
// TTL only expires the locks of holders that died. Renewal and release go
// through Lua scripts that touch the key only while it still holds the
// token.
func (r *RedisStore[S]) Lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	key := r.lockKey(threadID)
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.lockInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return r.holdLock(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// holdLock starts the renewal watchdog for an acquired lock and returns the
// UnlockFunc that stops it and releases the key. The watchdog exits on its
// own once the key no longer holds token.
func (r *RedisStore[S]) holdLock(key, token string) UnlockFunc {
	interval := max(r.cfg.lockTTL/3, time.Millisecond)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.cfg.lockTTL.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		return r.client.Eval(ctx, unlockScript, []string{key}, token).Err()
	}
}

// Threads lists thread ids from the index, dropping entries whose TTL passed.
func (r *RedisStore[S]) Threads(ctx context.Context) ([]string, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &backend.ZRangeBy{
		Min: now,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the underlying client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}

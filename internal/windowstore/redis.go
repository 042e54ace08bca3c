package windowstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisStore keeps one sorted set per bucket: members are event ids, scores
// are float seconds since the epoch. No client-side locking is used; the
// snapshot and append of a single check are two separate transactions, so
// concurrent checks on one key may both observe count < limit.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// NewRedisClient builds a go-redis client from configuration and verifies the
// connection.
func NewRedisClient(ctx context.Context, cfg models.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// per-operation deadlines come from the caller's context
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps client. The store owns the client and closes it on Close.
func NewRedisStore(client *redis.Client, keyPrefix string, opTimeout time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		opTimeout: opTimeout,
	}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.keyPrefix + key.String()
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) Record(ctx context.Context, key Key, at time.Time, nonce string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.client.ZAdd(ctx, s.redisKey(key), redis.Z{Score: toScore(at), Member: Member(at, nonce)}).Err()
	if err != nil {
		return unavailable("record", err)
	}
	return nil
}

func (s *RedisStore) PurgeBefore(ctx context.Context, key Key, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.ZRemRangeByScore(ctx, s.redisKey(key), "-inf", exclusive(cutoff)).Result()
	if err != nil {
		return 0, unavailable("purge", err)
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context, key Key) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.ZCard(ctx, s.redisKey(key)).Result()
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *RedisStore) Oldest(ctx context.Context, key Key) (time.Time, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	zs, err := s.client.ZRangeWithScores(ctx, s.redisKey(key), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, unavailable("oldest", err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return fromScore(zs[0].Score), true, nil
}

func (s *RedisStore) SetTTL(ctx context.Context, key Key, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, s.redisKey(key), ttl).Err(); err != nil {
		return unavailable("set ttl", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// ClearMatching walks the keyspace with SCAN. It is an administrative call and
// is bounded by the caller's context rather than the per-operation timeout.
func (s *RedisStore) ClearMatching(ctx context.Context, prefix string) (int64, error) {
	var removed int64
	batch := make([]string, 0, scanBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += n
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.matchPattern(prefix), scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, unavailable("clear matching", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("clear matching", err)
	}
	if err := flush(); err != nil {
		return removed, unavailable("clear matching", err)
	}
	return removed, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, key Key, cutoff time.Time) (Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rk := s.redisKey(key)
	var card *redis.IntCmd
	var first *redis.ZSliceCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rk, "-inf", exclusive(cutoff))
		card = pipe.ZCard(ctx, rk)
		first = pipe.ZRangeWithScores(ctx, rk, 0, 0)
		return nil
	})
	if err != nil {
		return Snapshot{}, unavailable("snapshot", err)
	}

	snap := Snapshot{Count: card.Val()}
	if zs := first.Val(); len(zs) > 0 {
		snap.Oldest = fromScore(zs[0].Score)
	}
	return snap, nil
}

func (s *RedisStore) Append(ctx context.Context, key Key, at time.Time, nonce string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rk := s.redisKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rk, redis.Z{Score: toScore(at), Member: Member(at, nonce)})
		pipe.Expire(ctx, rk, ttl)
		return nil
	})
	if err != nil {
		return unavailable("append", err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]Bucket, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.matchPattern(prefix), scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	if len(keys) == 0 {
		return []Bucket{}, nil
	}

	cards := make([]*redis.IntCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cards[i] = pipe.ZCard(ctx, k)
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("scan", err)
	}

	buckets := make([]Bucket, 0, len(keys))
	for i, k := range keys {
		key, ok := ParseKey(strings.TrimPrefix(k, s.keyPrefix))
		if !ok {
			continue
		}
		count, ttl := cards[i].Val(), ttls[i].Val()
		// -2: the key expired between SCAN and PTTL
		if count == 0 || ttl == -2 {
			continue
		}
		buckets = append(buckets, Bucket{Key: key, Count: count, TTL: ttl})
	}
	return buckets, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) matchPattern(prefix string) string {
	return escapeGlob(s.keyPrefix+prefix) + "*"
}

// exclusive renders a ZRANGEBYSCORE bound that excludes t itself.
func exclusive(t time.Time) string {
	return "(" + strconv.FormatFloat(toScore(t), 'f', -1, 64)
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

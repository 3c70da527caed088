package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLayer backs the fast tier with a shared Redis instance so multiple
// workers see the same hot set.
type RedisLayer struct {
	client *redis.Client

	hits      int64
	misses    int64
	evictions int64
}

// NewRedisLayer connects to Redis and verifies it answers.
func NewRedisLayer(addr, password string, db int) (*RedisLayer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisLayer{client: client}, nil
}

func (r *RedisLayer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&r.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		atomic.AddInt64(&r.misses, 1)
		return nil, false, err
	}
	atomic.AddInt64(&r.hits, 1)
	return val, true, nil
}

func (r *RedisLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DeletePrefix scans and removes matching keys. SCAN keeps the operation
// incremental on large keyspaces.
func (r *RedisLayer) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
		atomic.AddInt64(&r.evictions, 1)
	}
	return iter.Err()
}

func (r *RedisLayer) Stats() LayerStats {
	s := LayerStats{
		Hits:      atomic.LoadInt64(&r.hits),
		Misses:    atomic.LoadInt64(&r.misses),
		Evictions: atomic.LoadInt64(&r.evictions),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (r *RedisLayer) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLayer) Close() error {
	return r.client.Close()
}

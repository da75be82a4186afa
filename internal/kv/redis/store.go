// Package redis implements the kv.Store contract on Redis, the default
// backend. Versions for conditional writes live in a companion "<key>:v" key
// kept in lockstep by Lua scripts, since Redis has no per-key version of its
// own.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv"
)

// putIfScript compares the companion version key and swaps value + version in
// one atomic step.
var putIfScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])
return 1
`)

// putScript is the unconditional variant; it still bumps the version so a
// later PutIf observes the write.
var putScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])
return 1
`)

// Store implements kv.Store on a single Redis instance.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

func versionKey(key string) string {
	return key + ":v"
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Record, error) {
	pipe := s.client.Pipeline()
	valCmd := pipe.Get(ctx, key)
	verCmd := pipe.Get(ctx, versionKey(key))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, err
	}

	val, err := valCmd.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	version, err := verCmd.Int64()
	if err == redis.Nil {
		// Written by SetNX, which carries no version key.
		version = 1
	} else if err != nil {
		return nil, err
	}

	return &kv.Record{Value: val, Version: version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return putScript.Run(ctx, s.client, []string{key, versionKey(key)}, value, 0).Err()
}

func (s *Store) PutIf(ctx context.Context, key string, value []byte, ifVersion int64) error {
	ok, err := putIfScript.Run(ctx, s.client, []string{key, versionKey(key)}, value, ifVersion).Int64()
	if err != nil {
		return err
	}
	if ok == 0 {
		return kv.ErrPreconditionFailed
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key, versionKey(key)).Err()
}

func (s *Store) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *Store) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	return s.client.RPush(ctx, key, value).Result()
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// CleanupExpired is a no-op: Redis expires keys natively.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reads both buckets and increments the current one only when the weighted
// count is under the limit, in a single round trip.
var slidingWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local previous = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if current + previous * weight < limit then
  current = redis.call("INCR", KEYS[1])
  if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[3])
  end
  return {1, current, previous}
end
return {0, current, previous}
`)

var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

type RedisClient struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrementScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
}

func (r *RedisClient) ConditionalIncrement(ctx context.Context, currentKey, previousKey string, limit int64, previousWeight float64, ttl time.Duration) (WindowResult, error) {
	weight := strconv.FormatFloat(math.Max(0, math.Min(1, previousWeight)), 'f', 6, 64)

	res, err := slidingWindowScript.Run(ctx, r.client, []string{currentKey, previousKey}, limit, weight, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return WindowResult{}, err
	}
	if len(res) != 3 {
		return WindowResult{}, fmt.Errorf("unexpected sliding window reply: %v", res)
	}

	return WindowResult{
		Allowed:  res[0] == 1,
		Current:  res[1],
		Previous: res[2],
	}, nil
}

func (r *RedisClient) Counts(ctx context.Context, currentKey, previousKey string) (int64, int64, error) {
	vals, err := r.client.MGet(ctx, currentKey, previousKey).Result()
	if err != nil {
		return 0, 0, err
	}

	return parseCount(vals[0]), parseCount(vals[1]), nil
}

func parseCount(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

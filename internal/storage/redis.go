package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nshruti113/request-shield/internal/models"
)

// takeTokenScript updates a token bucket and consumes one token in a
// single Redis round trip, so concurrent requests cannot both observe
// the same token.
var takeTokenScript = redis.NewScript(`
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local tokens = tonumber(bucket[1])
local last = tonumber(bucket[2])
if tokens == nil then
  tokens = capacity
  last = now
end
local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * refill)
local allowed = 0
if tokens >= 1.0 then
  tokens = tokens - 1.0
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {allowed, tostring(tokens)}
`)

// RedisStore implements Store on a Redis backend.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisStore) TakeToken(ctx context.Context, key string, capacity, refillPerSec, now float64, ttl time.Duration) (bool, float64, error) {
	res, err := takeTokenScript.Run(ctx, r.client, []string{key},
		capacity, refillPerSec, now, int(ttl.Seconds())).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply: %v", res)
	}
	allowed, _ := res[0].(int64)
	tokens, err := strconv.ParseFloat(res[1].(string), 64)
	if err != nil {
		return false, 0, err
	}
	return allowed == 1, tokens, nil
}

func (r *RedisStore) GetTier(ctx context.Context, client string) (models.Tier, error) {
	val, err := r.client.Get(ctx, prefixTier+client).Result()
	if errors.Is(err, redis.Nil) {
		return models.TierNormal, nil
	}
	if err != nil {
		return models.TierNormal, err
	}
	return models.Tier(val), nil
}

func (r *RedisStore) SetTier(ctx context.Context, client string, tier models.Tier, ttl time.Duration) error {
	return r.client.Set(ctx, prefixTier+client, string(tier), ttl).Err()
}

func (r *RedisStore) IncrSuspicious(ctx context.Context, client string, ttl time.Duration) (int64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, prefixSuspicious+client)
	pipe.ExpireNX(ctx, prefixSuspicious+client, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *RedisStore) GetSuspicious(ctx context.Context, client string) (int64, error) {
	val, err := r.client.Get(ctx, prefixSuspicious+client).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

func (r *RedisStore) Block(ctx context.Context, client string, duration time.Duration) error {
	return r.client.Set(ctx, prefixBlock+client, "1", duration).Err()
}

func (r *RedisStore) IsBlocked(ctx context.Context, client string) (bool, error) {
	n, err := r.client.Exists(ctx, prefixBlock+client).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Unblock(ctx context.Context, client string) error {
	return r.client.Del(ctx,
		prefixBlock+client,
		prefixSuspicious+client,
		prefixTier+client,
	).Err()
}

func (r *RedisStore) PutChallenge(ctx context.Context, token, answer string, ttl time.Duration) error {
	return r.client.Set(ctx, prefixChallenge+token, answer, ttl).Err()
}

func (r *RedisStore) TakeChallenge(ctx context.Context, token string) (string, error) {
	val, err := r.client.GetDel(ctx, prefixChallenge+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

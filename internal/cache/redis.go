package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL       = 15 * time.Minute
	DefaultJitter    = 5 * time.Minute
	DefaultKeyPrefix = "basket:"
)

// setIfNotOlder writes ARGV[1] unless the entry already cached under KEYS[1]
// carries a higher version than ARGV[2]. Returns 1 when written.
var setIfNotOlder = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, cached = pcall(cjson.decode, current)
	if ok and type(cached) == 'table' and tonumber(cached['Version'] or 0) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisCache stores baskets as JSON. Entries expire after the TTL plus a
// random jitter so baskets cached in one burst do not expire together.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	jitter time.Duration
}

type RedisOption func(*RedisCache)

func WithTTL(ttl, jitter time.Duration) RedisOption {
	return func(r *RedisCache) {
		if ttl > 0 {
			r.ttl = ttl
		}
		if jitter >= 0 {
			r.jitter = jitter
		}
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisCache) {
		r.prefix = prefix
	}
}

func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	r := &RedisCache{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultTTL,
		jitter: DefaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns ErrCacheMiss for an absent key. An entry that no longer
// decodes is dropped so the next read repopulates it.
func (r *RedisCache) Get(ctx context.Context, basketID string) (*domain.Basket, error) {
	key := r.key(basketID)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	b := new(domain.Basket)
	if err := json.Unmarshal(raw, b); err != nil {
		if delErr := r.client.Del(ctx, key).Err(); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return nil, fmt.Errorf("decode cached basket %s: %w", basketID, err)
	}
	return b, nil
}

// Set caches basket unless a newer version of it is already cached.
func (r *RedisCache) Set(ctx context.Context, basketID string, basket *domain.Basket) error {
	raw, err := json.Marshal(basket)
	if err != nil {
		return fmt.Errorf("encode basket %s: %w", basketID, err)
	}

	err = setIfNotOlder.Run(ctx, r.client,
		[]string{r.key(basketID)},
		raw, basket.Version, r.expiry().Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", r.key(basketID), err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, basketID string) error {
	if err := r.client.Del(ctx, r.key(basketID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key(basketID), err)
	}
	return nil
}

func (r *RedisCache) key(basketID string) string {
	return r.prefix + basketID
}

func (r *RedisCache) expiry() time.Duration {
	if r.jitter <= 0 {
		return r.ttl
	}
	return r.ttl + time.Duration(rand.Int63n(int64(r.jitter)))
}

// Package cache holds the Redis-backed hot-path stores (per-session
// carts, the menu mirror) and the Memcached secondary cache for
// classifier results.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// RedisCartStore implements cart.Store and userdata.SessionCache against
// the cart:{session_id} key.
type RedisCartStore struct {
	client goredis.Cmdable
	prefix string
}

func NewRedisCartStore(client goredis.Cmdable) *RedisCartStore {
	return &RedisCartStore{client: client, prefix: "cart:"}
}

func (s *RedisCartStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Load implements cart.Store.Load: a missing key is not an error.
func (s *RedisCartStore) Load(ctx context.Context, sessionID string) (domain.Cart, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == goredis.Nil {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, err
	}
	var cart domain.Cart
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return domain.Cart{}, false, fmt.Errorf("cache: corrupt cart for %s: %w", sessionID, err)
	}
	return cart, true, nil
}

// Save implements cart.Store.Save, JSON-encoding the cart and setting the
// TTL atomically on every write.
func (s *RedisCartStore) Save(ctx context.Context, cart domain.Cart, ttl time.Duration) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("cache: marshal cart for %s: %w", cart.SessionID, err)
	}
	return s.client.Set(ctx, s.key(cart.SessionID), raw, ttl).Err()
}

func (s *RedisCartStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// LoadCart implements userdata.SessionCache.LoadCart: identical lookup,
// different interface.
func (s *RedisCartStore) LoadCart(ctx context.Context, sessionID string) (domain.Cart, bool, error) {
	return s.Load(ctx, sessionID)
}

// Destroy implements userdata.SessionCache.Destroy.
func (s *RedisCartStore) Destroy(ctx context.Context, sessionID string) error {
	return s.Delete(ctx, sessionID)
}

package inventory

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is the production Store:
//
//	inventory:available:{item_id}           -> integer string
//	inventory:reserved:{item_id}:{user_id}  -> integer string
//	inventory:reservations:{item_id}        -> set of user_id
//
// The reserve/release/confirm operations are single Lua scripts so the
// read-compute-write sequence is atomic with respect to concurrent callers
// on the same item_id.
type RedisStore struct {
	client goredis.Cmdable
	prefix string
}

func NewRedisStore(client goredis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "inventory:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) availableKey(itemID string) string {
	return s.prefix + "available:" + itemID
}

func (s *RedisStore) reservedKey(itemID, userID string) string {
	return s.prefix + "reserved:" + itemID + ":" + userID
}

func (s *RedisStore) reservingUsersKey(itemID string) string {
	return s.prefix + "reservations:" + itemID
}

func (s *RedisStore) SetAvailable(ctx context.Context, itemID string, qty int) error {
	return s.client.Set(ctx, s.availableKey(itemID), qty, 0).Err()
}

func (s *RedisStore) Available(ctx context.Context, itemID string) (int, bool, error) {
	val, err := s.client.Get(ctx, s.availableKey(itemID)).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	qty, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("inventory: corrupt available value for %s: %w", itemID, err)
	}
	return qty, true, nil
}

// reserveScript applies the net-aware reserve atomically.
//
// KEYS[1] = available key
// KEYS[2] = reserved key (this item, this user)
// KEYS[3] = reserving_users set key
// ARGV[1] = requested qty
// ARGV[2] = user_id
//
// Returns {status, available}:
//
//	status  1 = reserved
//	status  0 = out of stock (available is the current count)
//	status -1 = unknown item
var reserveScript = goredis.NewScript(`
local available_raw = redis.call("GET", KEYS[1])
if available_raw == false then
    return {-1, 0}
end
local available = tonumber(available_raw)
local existing = tonumber(redis.call("GET", KEYS[2]) or "0")
local qty = tonumber(ARGV[1])
local net = qty - existing

if net > available then
    return {0, available}
end

redis.call("DECRBY", KEYS[1], net)
redis.call("SET", KEYS[2], qty)
redis.call("SADD", KEYS[3], ARGV[2])
return {1, available - net}
`)

func (s *RedisStore) Reserve(ctx context.Context, itemID, userID string, qty int) (ReserveResult, error) {
	raw, err := reserveScript.Run(ctx, s.client,
		[]string{s.availableKey(itemID), s.reservedKey(itemID, userID), s.reservingUsersKey(itemID)},
		qty, userID,
	).Result()
	if err != nil {
		return ReserveResult{}, err
	}

	pair, ok := raw.([]interface{})
	if !ok || len(pair) != 2 {
		return ReserveResult{}, fmt.Errorf("inventory: unexpected reserve script reply: %#v", raw)
	}
	status := pair[0].(int64)
	available := pair[1].(int64)

	switch status {
	case 1:
		return ReserveResult{OK: true}, nil
	case 0:
		return ReserveResult{OK: false, Available: int(available)}, nil
	case -1:
		return ReserveResult{Unknown: true}, nil
	default:
		return ReserveResult{}, fmt.Errorf("inventory: unexpected reserve script status %d", status)
	}
}

// releaseScript returns a reservation's quantity to available_count and
// removes it. Idempotent: a missing reservation is a no-op.
var releaseScript = goredis.NewScript(`
local reserved_raw = redis.call("GET", KEYS[2])
if reserved_raw == false then
    return 0
end
redis.call("INCRBY", KEYS[1], tonumber(reserved_raw))
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[1])
return 1
`)

func (s *RedisStore) Release(ctx context.Context, itemID, userID string) error {
	return releaseScript.Run(ctx, s.client,
		[]string{s.availableKey(itemID), s.reservedKey(itemID, userID), s.reservingUsersKey(itemID)},
		userID,
	).Err()
}

// confirmScript removes the reservation without touching available_count
// (stock is permanently consumed). Idempotent.
var confirmScript = goredis.NewScript(`
local reserved_raw = redis.call("GET", KEYS[1])
if reserved_raw == false then
    return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return 1
`)

func (s *RedisStore) Confirm(ctx context.Context, itemID, userID string) error {
	return confirmScript.Run(ctx, s.client,
		[]string{s.reservedKey(itemID, userID), s.reservingUsersKey(itemID)},
		userID,
	).Err()
}

// reservedTotalScript sums the reservation held by every user currently in
// reserving_users for this item.
var reservedTotalScript = goredis.NewScript(`
local users = redis.call("SMEMBERS", KEYS[1])
local total = 0
for i = 1, #users do
    local qty = redis.call("GET", ARGV[1] .. users[i])
    if qty then
        total = total + tonumber(qty)
    end
end
return total
`)

func (s *RedisStore) ReservedTotal(ctx context.Context, itemID string) (int, error) {
	prefix := s.prefix + "reserved:" + itemID + ":"
	total, err := reservedTotalScript.Run(ctx, s.client,
		[]string{s.reservingUsersKey(itemID)},
		prefix,
	).Int()
	if err != nil {
		return 0, err
	}
	return total, nil
}

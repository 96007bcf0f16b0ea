package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ClassifierTTL bounds how long a classification result is reused for an
// identical (message, entity_collection_step) pair within a burst.
const ClassifierTTL = 30 * time.Second

// ClassifierCache is a short-TTL Memcached cache for classification
// results; it dedupes repeated identical classification calls within a
// burst.
type ClassifierCache struct {
	client *memcache.Client
}

func NewClassifierCache(addr string) (*ClassifierCache, error) {
	client := memcache.New(addr)
	client.Timeout = 3 * time.Second
	client.MaxIdleConns = 10
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("cache: connect memcache %s: %w", addr, err)
	}
	return &ClassifierCache{client: client}, nil
}

// Key hashes (message, entityCollectionStep) into a stable memcache key.
func Key(message, entityCollectionStep string) string {
	h := sha1.Sum([]byte(message + "\x00" + entityCollectionStep))
	return "clsfy:" + hex.EncodeToString(h[:])
}

// Get returns the cached raw classification JSON for key, or (nil, false)
// on a cache miss. Errors are swallowed: a cache that is down must degrade
// to "always miss," never fail the classification call.
func (c *ClassifierCache) Get(key string) ([]byte, bool) {
	item, err := c.client.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

// Set stores raw classification JSON under key with ClassifierTTL. Errors
// are swallowed for the same reason as Get.
func (c *ClassifierCache) Set(key string, raw []byte) {
	_ = c.client.Set(&memcache.Item{
		Key:        key,
		Value:      raw,
		Expiration: int32(ClassifierTTL.Seconds()),
	})
}

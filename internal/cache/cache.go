// Package cache is an optional Redis-backed result cache for capability
// calls whose descriptor marks them cacheable (read-only lookups like
// listing sheets). A cache failure is never a dispatch failure; misses and
// Redis errors both fall through to the handler.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Key derives a stable cache key from a call's target and arguments.
// Requester is part of the key: capability results are per-requester
// because handlers resolve per-requester endpoints.
func Key(requester, platform, function string, args map[string]any) string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s.%s", requester, platform, function)
	for _, name := range names {
		data, _ := json.Marshal(args[name])
		fmt.Fprintf(h, "|%s=%s", name, data)
	}
	return "openrelay:result:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload JSON for key, or ok=false on miss or
// Redis error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("cache: get: %v", err)
		return "", false
	}
	return val, true
}

// Set stores the payload JSON for key with the configured TTL. Errors are
// logged and dropped.
func (c *Cache) Set(ctx context.Context, key, payload string) {
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Printf("cache: set: %v", err)
	}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

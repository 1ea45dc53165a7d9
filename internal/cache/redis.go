package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// ResultCache caches redacted outputs in Redis, keyed by a hash of the
// tenant, the registry and policy versions, and the raw payload. A
// version bump on either side changes every key, so stale entries age
// out by TTL instead of needing invalidation.
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(cfg config.CacheConfig, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	rc := &ResultCache{
		client: client,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("ttl", cfg.TTL))

	return rc, nil
}

// Key derives the cache key for one payload under the current registry
// and policy versions.
func (rc *ResultCache) Key(tenant, registryVersion string, policyVersion uint64, contentType pii.ContentType, payload []byte) string {
	hasher := sha256.New()
	hasher.Write([]byte(tenant))
	hasher.Write([]byte{0})
	hasher.Write([]byte(registryVersion))
	hasher.Write([]byte{0})
	var ver [8]byte
	binary.BigEndian.PutUint64(ver[:], policyVersion)
	hasher.Write(ver[:])
	hasher.Write([]byte(contentType))
	hasher.Write([]byte{0})
	hasher.Write(payload)

	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:res:%s", rc.config.KeyPrefix, hash[:32])
}

// Get looks up a cached result. A decode failure deletes the entry and
// reports a miss.
func (rc *ResultCache) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		rc.misses.Add(1)
		return nil, false
	} else if err != nil {
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		rc.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		rc.logger.Error("Failed to unmarshal cached entry", zap.Error(err))
		rc.client.Del(ctx, key)
		rc.misses.Add(1)
		return nil, false
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key))
	return &entry, true
}

// Set stores a redacted result with the configured TTL.
func (rc *ResultCache) Set(ctx context.Context, key string, entry *Entry) error {
	entry.CachedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry for caching: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.config.TTL).Err(); err != nil {
		rc.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics.
func (rc *ResultCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := rc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := rc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached results under the configured prefix.
func (rc *ResultCache) Clear(ctx context.Context) error {
	pattern := rc.config.KeyPrefix + "*"

	iter := rc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			rc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}

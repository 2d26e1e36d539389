package rulecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/config"
	"github.com/cod3vil/data-veil/internal/workflow"
)

// Cache is a Redis-backed read-through cache for the remote rule catalog.
// The catalog is immutable for a session, so one key with a TTL is enough.
// Every failure degrades to a miss; the engine then falls through to the
// remote service.
type Cache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
}

// cachedCatalog is the stored payload.
type cachedCatalog struct {
	Rules    []workflow.Rule `json:"rules"`
	CachedAt time.Time       `json:"cached_at"`
}

// New creates a rule catalog cache and verifies the Redis connection.
func New(cfg config.CacheConfig, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Rule catalog cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("default_ttl", cfg.DefaultTTL),
	)

	return &Cache{client: client, config: cfg, logger: logger}, nil
}

// Get returns the cached catalog, reporting a miss on absence, expiry, or
// any Redis error.
func (c *Cache) Get(ctx context.Context) ([]workflow.Rule, bool) {
	data, err := c.client.Get(ctx, c.key()).Result()
	if err == redis.Nil {
		c.logger.Debug("Catalog cache miss")
		return nil, false
	} else if err != nil {
		c.logger.Error("Catalog cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached cachedCatalog
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Error("Failed to unmarshal cached catalog", zap.Error(err))
		// Drop the corrupted entry so the next fetch repopulates it.
		c.client.Del(ctx, c.key())
		return nil, false
	}

	c.logger.Debug("Catalog cache hit",
		zap.Int("rules", len(cached.Rules)),
		zap.Time("cached_at", cached.CachedAt),
	)
	return cached.Rules, true
}

// Store caches the catalog with the configured TTL. Best effort.
func (c *Cache) Store(ctx context.Context, rules []workflow.Rule) {
	data, err := json.Marshal(cachedCatalog{Rules: rules, CachedAt: time.Now()})
	if err != nil {
		c.logger.Error("Failed to marshal catalog for caching", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(), data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Error("Failed to cache catalog", zap.Error(err))
		return
	}
	c.logger.Debug("Catalog cached", zap.Int("rules", len(rules)))
}

// Clear removes the cached catalog.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear catalog cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Cache) key() string {
	return c.config.KeyPrefix + ":rules:catalog"
}

// maskRedisURL masks credentials in a Redis URL for logging.
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

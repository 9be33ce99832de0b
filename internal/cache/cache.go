package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/verification"
)

// NewClient creates a Redis client from configuration
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}

// OutcomeCache stores verification outcomes keyed by a hash of their input
type OutcomeCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewOutcomeCache creates a new outcome cache
func NewOutcomeCache(client redis.Cmdable, ttl time.Duration, prefix string, logger *zap.Logger) *OutcomeCache {
	return &OutcomeCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

// keyMaterial is everything that influences a deterministic outcome
type keyMaterial struct {
	Input    verification.VerificationInput `json:"input"`
	ImageURL string                         `json:"imageUrl,omitempty"`
}

// Key hashes the verification input into a cache key suffix
func Key(input verification.VerificationInput, imageURL string) (string, error) {
	data, err := json.Marshal(keyMaterial{Input: input, ImageURL: imageURL})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key material: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached outcome for key. A miss returns (nil, false, nil).
func (c *OutcomeCache) Get(ctx context.Context, key string) (*verification.VerificationOutcome, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached outcome: %w", err)
	}

	var outcome verification.VerificationOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, c.prefix+key)
		return nil, false, nil
	}

	return &outcome, true, nil
}

// Set stores an outcome under key
func (c *OutcomeCache) Set(ctx context.Context, key string, outcome *verification.VerificationOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache outcome: %w", err)
	}
	return nil
}

// Health pings Redis
func (c *OutcomeCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

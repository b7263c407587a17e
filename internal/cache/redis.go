package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/symptom-expert-server/internal/domain"
)

// KeyPrefix namespaces diagnosis entries in a shared Redis.
const KeyPrefix = "symptom-expert:diagnosis:"

// RedisCache shares results between replicas. Every call goes through a
// circuit breaker so an unavailable Redis costs one fast failure per request
// instead of a network timeout.
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewRedisCache connects to cfg.RedisURL and verifies the connection.
func NewRedisCache(cfg domain.CacheConfig, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg, logger), nil
}

// NewRedisCacheFromClient wraps an existing client without pinging it.
func NewRedisCacheFromClient(client *redis.Client, cfg domain.CacheConfig, logger *logrus.Logger) *RedisCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.MaxRequests == 0 {
		breakerCfg.MaxRequests = 1
	}
	if breakerCfg.Timeout == 0 {
		breakerCfg.Timeout = 30 * time.Second
	}
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg.FailureThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "RedisResultCache",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &RedisCache{
		client:  client,
		breaker: breaker,
		ttl:     ttl,
		logger:  logger,
	}
}

// Get implements domain.ResultCache. A corrupt entry is deleted and reported
// as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.DiagnosisResponse, bool, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		val, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var resp domain.DiagnosisResponse
	if err := json.Unmarshal(raw.([]byte), &resp); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Dropping corrupt cache entry")
		c.client.Del(ctx, KeyPrefix+key)
		return nil, false, nil
	}
	return &resp, true, nil
}

// Set implements domain.ResultCache.
func (c *RedisCache) Set(ctx context.Context, key string, resp *domain.DiagnosisResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, KeyPrefix+key, payload, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// State reports the circuit breaker state.
func (c *RedisCache) State() gobreaker.State {
	return c.breaker.State()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

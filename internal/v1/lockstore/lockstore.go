// Package lockstore implements the five KV primitives the distributed lock
// engine builds on, over an external store with native key expiry (Redis).
//
// Every call is wrapped in a sony/gobreaker circuit breaker and degrades
// gracefully (false/none, never a raised error) when the store is
// unavailable. Transport errors retry with exponential backoff, 50ms
// doubling up to a 2s cap.
package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNoKey is returned by Pttl when the key does not exist.
var ErrNoKey = errors.New("lockstore: key does not exist")

// ErrNoExpiry is returned by Pttl when the key exists but carries no TTL.
var ErrNoExpiry = errors.New("lockstore: key has no expiry")

// Store is the KV abstraction the Lock Engine depends on. It never returns
// an error for store unavailability: callers see a zero value (false/none)
// instead, and surface that as a business error, not an exception.
type Store interface {
	// PutIfAbsent sets key to value with the given TTL only if key does not
	// already exist. Returns true if the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Get returns the current value of key, or (nil, false) if absent.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Pttl returns the remaining TTL in milliseconds, -1 if the key exists
	// without expiry, or -2 if the key does not exist.
	Pttl(ctx context.Context, key string) int64
	// Set overwrites key unconditionally, preserving no prior metadata
	// beyond what value itself encodes, with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Delete removes key. Returns true if a key was actually removed.
	Delete(ctx context.Context, key string) bool
}

// RedisStore is a Store backed by go-redis, circuit-broken against a flaky
// external Redis.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisStore builds a circuit-broken Store. client must already be
// connected (callers typically Ping before constructing, as bus.NewService
// does).
func NewRedisStore(client *redis.Client) *RedisStore {
	st := gobreaker.Settings{
		Name:        "lockstore",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("lockstore").Set(stateVal)
		},
	}
	return &RedisStore{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

// retryPolicy is the exponential-with-cap backoff: 50ms doubling per
// attempt, capped at 2s.
func retryPolicy() backoff.ExponentialBackOff {
	return backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxInterval:         2 * time.Second,
	}
}

// withRetry runs op with exponential backoff capped at 2s, for at most 2s in
// total. Every non-nil error op returns is retried, including the breaker's
// open-state error; ops return a nil error for "not found" so that outcome
// is not retried.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	bo := retryPolicy()
	return backoff.Retry(ctx, func() (T, error) {
		return op()
	}, backoff.WithBackOff(&bo), backoff.WithMaxElapsedTime(2*time.Second))
}

// record instruments one store call's outcome and latency.
func record(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, status).Inc()
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	start := time.Now()
	result, err := withRetry(ctx, func() (bool, error) {
		res, err := s.cb.Execute(func() (any, error) {
			return s.client.SetNX(ctx, key, value, ttl).Result()
		})
		if err != nil {
			return false, err
		}
		return res.(bool), nil
	})
	record("put_if_absent", start, err)
	if err != nil {
		s.logDegraded(ctx, "PutIfAbsent", key, err)
		return false
	}
	return result
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	result, err := withRetry(ctx, func() ([]byte, error) {
		res, err := s.cb.Execute(func() (any, error) {
			return s.client.Get(ctx, key).Bytes()
		})
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		return res.([]byte), nil
	})
	record("get", start, err)
	if err != nil {
		s.logDegraded(ctx, "Get", key, err)
		return nil, false
	}
	return result, result != nil
}

func (s *RedisStore) Pttl(ctx context.Context, key string) int64 {
	start := time.Now()
	result, err := withRetry(ctx, func() (int64, error) {
		res, err := s.cb.Execute(func() (any, error) {
			return s.client.PTTL(ctx, key).Result()
		})
		if err != nil {
			return -2, err
		}
		d := res.(time.Duration)
		// go-redis scales positive TTLs to milliseconds, but the -1 (no
		// expiry) and -2 (no key) protocol sentinels come back as raw
		// nanosecond values; dividing those would truncate them to 0.
		if d < 0 {
			return int64(d), nil
		}
		return int64(d / time.Millisecond), nil
	})
	record("pttl", start, err)
	if err != nil {
		s.logDegraded(ctx, "Pttl", key, err)
		return -2
	}
	return result
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	start := time.Now()
	_, err := withRetry(ctx, func() (struct{}, error) {
		_, err := s.cb.Execute(func() (any, error) {
			return nil, s.client.Set(ctx, key, value, ttl).Err()
		})
		return struct{}{}, err
	})
	record("set", start, err)
	if err != nil {
		s.logDegraded(ctx, "Set", key, err)
		return false
	}
	return true
}

func (s *RedisStore) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	result, err := withRetry(ctx, func() (int64, error) {
		res, err := s.cb.Execute(func() (any, error) {
			return s.client.Del(ctx, key).Result()
		})
		if err != nil {
			return 0, err
		}
		return res.(int64), nil
	})
	record("delete", start, err)
	if err != nil {
		s.logDegraded(ctx, "Delete", key, err)
		return false
	}
	return result > 0
}

func (s *RedisStore) logDegraded(ctx context.Context, op, key string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) {
		metrics.CircuitBreakerFailures.WithLabelValues("lockstore").Inc()
		logging.Warn(ctx, "lock store circuit open, degrading", zap.String("op", op), zap.String("key", key))
		return
	}
	logging.Error(ctx, "lock store operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
}

// Package bus declares the cross-instance pub/sub interface anticipated by
// the event routing table and provides a Redis-backed realization of it.
// The interface is declared and wired so a multi-instance deployment has
// somewhere to plug in, but no component in this module depends on
// cross-instance delivery actually happening: a single-instance gateway is
// a valid deployment on its own.
//
// Every call is circuit-broken and degrades to a no-op on a Redis outage; a
// nil *Service is a silent single-instance no-op.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PubSubPayload is the envelope moved between gateway instances.
type PubSubPayload struct {
	ResourceID string          `json:"resourceId"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	SenderID   string          `json:"senderId"` // prevents echoing a fan-out back to its originator
}

// Service talks to Redis for both roles the gateway needs it for: the Lock
// Store's KV backend (internal/v1/lockstore) and this cross-instance bus.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, e.g. for internal/v1/lockstore
// to build atop. Safe to call on a nil *Service (returns nil).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis at addr, verifying connectivity immediately
// and wrapping every subsequent call in a circuit breaker so an outage
// degrades the bus to a no-op rather than hanging callers.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis_bus",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis_bus").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to redis bus", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish fans event out to every other instance subscribed to resourceID's
// room channel. A nil Service (single-instance mode) is a silent no-op.
func (s *Service) Publish(ctx context.Context, resourceID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("bus: failed to marshal inner payload: %w", err)
		}

		msg := PubSubPayload{ResourceID: resourceID, Event: event, Payload: innerBytes, SenderID: senderID}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("bus: failed to marshal envelope: %w", err)
		}

		channel := fmt.Sprintf("collab:resource:%s", resourceID)
		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis_bus").Inc()
			logging.Warn(ctx, "redis bus circuit open: dropping publish", zap.String("resource_id", resourceID))
			return nil
		}
		logging.Error(ctx, "redis bus publish failed", zap.String("resource_id", resourceID), zap.Error(err))
		return err
	}
	return nil
}

// PublishDirect sends event directly to a specific user's channel, across
// every gateway instance that user might be connected to.
func (s *Service) PublishDirect(ctx context.Context, targetUserID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("bus: failed to marshal inner payload: %w", err)
		}

		msg := PubSubPayload{Event: event, Payload: innerBytes, SenderID: senderID}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("bus: failed to marshal envelope: %w", err)
		}

		channel := fmt.Sprintf("collab:user:%s", targetUserID)
		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis_bus").Inc()
			logging.Warn(ctx, "redis bus circuit open: dropping direct publish", zap.String("user_id", targetUserID))
			return nil
		}
		logging.Error(ctx, "redis bus publish direct failed", zap.String("user_id", targetUserID), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe starts a background listener for resourceID's channel, invoking
// handler for every message received from another instance. The listener
// exits when ctx is cancelled; wg, if non-nil, is used by the caller to wait
// for the listener goroutine to fully stop.
func (s *Service) Subscribe(ctx context.Context, resourceID string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}

	channel := fmt.Sprintf("collab:resource:%s", resourceID)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "subscribed to redis bus channel", zap.String("channel", channel))
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "redis bus subscription channel closed", zap.String("channel", channel))
					return
				}
				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "failed to unmarshal redis bus message", zap.Error(err))
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping verifies Redis connectivity, used by the health handler.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis_bus").Inc()
		}
		return err
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

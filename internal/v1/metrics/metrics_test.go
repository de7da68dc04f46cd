package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("RedisOperationsTotal", func(t *testing.T) {
		RedisOperationsTotal.WithLabelValues("get", "success").Inc()
		val := testutil.ToFloat64(RedisOperationsTotal.WithLabelValues("get", "success"))
		if val < 1 {
			t.Errorf("expected RedisOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("RedisOperationDuration", func(t *testing.T) {
		RedisOperationDuration.WithLabelValues("get").Observe(0.1)
	})

	t.Run("LockOperations", func(t *testing.T) {
		LockOperations.WithLabelValues("acquire", "success").Inc()
		val := testutil.ToFloat64(LockOperations.WithLabelValues("acquire", "success"))
		if val < 1 {
			t.Errorf("expected LockOperations to be at least 1, got %v", val)
		}
	})

	t.Run("RateLimitRequests", func(t *testing.T) {
		RateLimitRequests.WithLabelValues("ws_connection").Inc()
		val := testutil.ToFloat64(RateLimitRequests.WithLabelValues("ws_connection"))
		if val < 1 {
			t.Errorf("expected RateLimitRequests to be at least 1, got %v", val)
		}
	})

	t.Run("ActiveConnections gauge", func(t *testing.T) {
		ActiveConnections.Inc()
		ActiveConnections.Inc()
		ActiveConnections.Dec()
		val := testutil.ToFloat64(ActiveConnections)
		if val < 1 {
			t.Errorf("expected ActiveConnections to be at least 1, got %v", val)
		}
	})
}

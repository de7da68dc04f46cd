// Package health exposes the gateway's probe endpoints: a liveness probe
// that never consults a dependency, and a readiness probe that aggregates
// named dependency checks into one status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collabgateway/gateway/internal/v1/bus"
	"github.com/collabgateway/gateway/internal/v1/lockstore"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"go.uber.org/zap"
)

// healthCheckKey is the reserved key Readiness round-trips through the Lock
// Store to verify it accepts writes, not just connects. lockstore.Store
// never surfaces transport errors directly (it degrades to a zero value on
// failure), so a failed Set is read back here as "unhealthy".
const healthCheckKey = "__health__:lockstore"

// LockStoreChecker checks whether the distributed lock store is accepting
// writes. Abstracted so tests can substitute a fake without touching Redis.
type LockStoreChecker interface {
	Check(ctx context.Context) string
}

// DefaultLockStoreChecker round-trips a short-lived key through the real
// Lock Store.
type DefaultLockStoreChecker struct {
	Store lockstore.Store
}

// Check writes and then deletes healthCheckKey. A failed write means the
// store is unreachable or its circuit breaker is open.
func (c *DefaultLockStoreChecker) Check(ctx context.Context) string {
	if c.Store == nil {
		return "healthy"
	}
	if !c.Store.Set(ctx, healthCheckKey, []byte("1"), 5*time.Second) {
		return "unhealthy"
	}
	c.Store.Delete(ctx, healthCheckKey)
	return "healthy"
}

// Handler manages health check endpoints.
type Handler struct {
	redisService     *bus.Service
	lockStoreEnabled bool
	lockStoreChecker LockStoreChecker
}

// NewHandler creates a new health check handler. store may be nil in
// single-instance/dev-mode deployments, in which case the lock store check
// always reports healthy.
func NewHandler(redisService *bus.Service, store lockstore.Store) *Handler {
	enabledEnv := os.Getenv("LOCK_STORE_HEALTH_CHECK_ENABLED")
	enabled := enabledEnv != "false" // enabled by default

	return &Handler{
		redisService:     redisService,
		lockStoreEnabled: enabled,
		lockStoreChecker: &DefaultLockStoreChecker{Store: store},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.lockStoreEnabled {
		lockStatus := h.checkLockStore(ctx)
		checks["lockstore"] = lockStatus
		if lockStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using the PING command.
func (h *Handler) checkRedis(ctx context.Context) string {
	// If the bus is not wired (single-instance mode), consider it healthy.
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkLockStore verifies the distributed lock store accepts writes.
func (h *Handler) checkLockStore(ctx context.Context) string {
	if h.lockStoreChecker == nil {
		return "unhealthy"
	}
	return h.lockStoreChecker.Check(ctx)
}

// HealthCheckResponse is a generic health check response kept for callers
// that want an untyped payload shape.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}

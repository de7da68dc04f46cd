package gateway

import (
	"context"
	"time"

	"github.com/collabgateway/gateway/internal/v1/events"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"github.com/collabgateway/gateway/internal/v1/pool"
	"go.uber.org/zap"
)

// StartStaleReaper runs the periodic stale-connection sweep until Shutdown
// is called. It complements, rather than replaces, the transport-level
// heartbeat.
func (h *Hub) StartStaleReaper() {
	go func() {
		ticker := time.NewTicker(h.cfg.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.reapStale()
			case <-h.stopReaper:
				return
			}
		}
	}()
}

// StartLockHeartbeat periodically renews every lock currently held by a
// still-connected client, so an editor's lock survives past its TTL for as
// long as their session stays open without requiring the client to send
// explicit lock:renew frames. Locks belonging to a disconnected client are
// left alone: the store's TTL expiry is what reclaims those.
func (h *Hub) StartLockHeartbeat() {
	go func() {
		ticker := time.NewTicker(h.cfg.LockHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.renewHeldLocks()
			case <-h.stopReaper:
				return
			}
		}
	}()
}

func (h *Hub) renewHeldLocks() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	ctx := context.Background()
	for _, c := range clients {
		for _, resourceID := range c.heldLockIDs() {
			if !h.locks.Renew(ctx, resourceID, c.principal.UserID, h.cfg.LockTTL) {
				c.untrackLock(resourceID)
			}
		}
	}
}

// reapStale force-disconnects every session whose lastActivityAt is older
// than 2x the configured pingTimeout.
func (h *Hub) reapStale() {
	threshold := 2 * h.cfg.PingTimeout
	now := time.Now()

	var stale []string
	h.pool.ForEach(func(c *pool.Connection) {
		if now.Sub(c.LastActivityAt()) > threshold {
			stale = append(stale, c.SocketID)
		}
	})

	for _, socketID := range stale {
		metrics.StaleConnectionsReaped.Inc()
		logging.Info(context.Background(), "reaping stale connection", zap.String("socketId", socketID))
		h.forceDisconnect(socketID)
	}
}

// Shutdown runs the graceful-shutdown sequence: broadcast
// SERVER_SHUTDOWN to every connection, wait up to the configured shutdown
// timeout (or ctx's deadline, whichever is sooner), then force-disconnect
// anything still registered. Idempotent: safe to call more than once, e.g.
// once from a signal handler and once from a process-exit hook.
func (h *Hub) Shutdown(ctx context.Context) {
	h.shutOnce.Do(func() {
		close(h.stopReaper)

		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()

		payload := ServerShutdownPayload{
			Message:   "server is shutting down",
			Timestamp: time.Now().UnixMilli(),
		}
		for _, c := range clients {
			c.sendEvent(events.NameServerShutdown, payload)
		}

		timeout := h.cfg.ShutdownTimeout
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}

		h.mu.RLock()
		remaining := make([]string, 0, len(h.clients))
		for id := range h.clients {
			remaining = append(remaining, id)
		}
		h.mu.RUnlock()

		for _, socketID := range remaining {
			h.forceDisconnect(socketID)
		}

		logging.Info(context.Background(), "graceful shutdown complete", zap.Int("forceDisconnected", len(remaining)))
	})
}

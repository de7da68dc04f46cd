// Package gateway implements the gateway core: the WebSocket session
// lifecycle, handshake, message routing, heartbeat, stale reaper, and
// graceful shutdown, wiring together every other internal/v1 package.
//
// Auth and capacity failures are rejected strictly at handshake time, before
// any upgrade, so no post-upgrade session is ever created for a request that
// should not have one. Wire frames are JSON: a string event name plus an
// object payload.
package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/auth"
	"github.com/collabgateway/gateway/internal/v1/config"
	"github.com/collabgateway/gateway/internal/v1/errcatalog"
	"github.com/collabgateway/gateway/internal/v1/events"
	"github.com/collabgateway/gateway/internal/v1/lockengine"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"github.com/collabgateway/gateway/internal/v1/pool"
	"github.com/collabgateway/gateway/internal/v1/presence"
	"github.com/collabgateway/gateway/internal/v1/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the central coordinator for every live session on this gateway
// instance: it runs the handshake, owns the connection registry, routes
// inbound frames, and drives the heartbeat / stale reaper / graceful
// shutdown sequences.
type Hub struct {
	cfg       *config.Config
	validator auth.TokenValidator
	pool      *pool.Pool
	presence  *presence.Engine
	locks     *lockengine.Engine
	limiter   *ratelimit.Limiter // nil means rate limiting is disabled

	mu      sync.RWMutex
	clients map[string]*Client // socketId -> Client, registered 1:1 with pool

	stopReaper chan struct{}
	reaperOnce sync.Once
	shutOnce   sync.Once
}

// NewHub builds a Hub wired to its collaborators. limiter may be nil to
// disable rate limiting entirely (e.g. in development mode).
func NewHub(cfg *config.Config, validator auth.TokenValidator, p *pool.Pool, pres *presence.Engine, locks *lockengine.Engine, limiter *ratelimit.Limiter) *Hub {
	return &Hub{
		cfg:        cfg,
		validator:  validator,
		pool:       p,
		presence:   pres,
		locks:      locks,
		limiter:    limiter,
		clients:    make(map[string]*Client),
		stopReaper: make(chan struct{}),
	}
}

// upgrader builds a fresh Upgrader for one handshake; CheckOrigin is
// evaluated per-request against the configured allow-list.
func (h *Hub) upgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
	}
}

// extractToken pulls the bearer token out of the handshake, preferring the
// Sec-WebSocket-Protocol header (first comma-separated candidate that is not
// the "access_token" marker) and falling back to a "token" query parameter
// for clients that cannot set custom headers during a WebSocket upgrade.
func (h *Hub) extractToken(c *gin.Context) string {
	if headerVal := c.GetHeader("Sec-WebSocket-Protocol"); headerVal != "" {
		for _, p := range strings.Split(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "" || p == "access_token" {
				continue
			}
			return p
		}
	}
	return c.Query("token")
}

// validateOrigin checks the request's Origin header against allowedOrigins.
// A missing Origin header is allowed so non-browser clients are not
// penalized.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// rejectHandshake writes a standard error envelope and aborts the upgrade:
// no post-upgrade session is ever created for an auth or cap failure.
func rejectHandshake(c *gin.Context, status int, code errcatalog.Code, message string) {
	metrics.ConnectionsRejected.WithLabelValues(string(code)).Inc()
	c.JSON(status, errcatalog.New(code, message))
}

// ServeWs authenticates the handshake and, on success, upgrades to a
// WebSocket session and registers it.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.cfg.Enabled {
		rejectHandshake(c, http.StatusServiceUnavailable, errcatalog.CodeServiceUnavailable, "gateway disabled")
		return
	}

	token := h.extractToken(c)
	if token == "" {
		rejectHandshake(c, http.StatusUnauthorized, errcatalog.CodeJWTMissing, "bearer token not provided")
		return
	}

	principal, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "handshake rejected: token validation failed", zap.Error(err))
		rejectHandshake(c, http.StatusUnauthorized, errcatalog.CodeJWTInvalid, "invalid or expired token")
		return
	}

	if h.pool.CapExceeded(principal.UserID) {
		rejectHandshake(c, http.StatusForbidden, errcatalog.CodeMaxConnectionsExceeded, "max connections per user exceeded")
		return
	}

	allowedOrigins := h.cfg.CORSOrigins()
	if err := validateOrigin(c.Request, allowedOrigins); err != nil {
		rejectHandshake(c, http.StatusForbidden, errcatalog.CodeUnauthorized, "origin not allowed")
		return
	}

	upgrader := h.upgrader(allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	h.registerConnection(conn, *principal, c.ClientIP(), c.Request.UserAgent())
}

// registerConnection finalizes a successful handshake: it builds the
// Connection + Client pair and registers both atomically, so the pool
// never observes a partially registered session.
func (h *Hub) registerConnection(conn wsConnection, principal auth.Principal, ip, userAgent string) *Client {
	socketID := uuid.NewString()

	pc := &pool.Connection{
		SocketID:    socketID,
		Principal:   principal,
		Transport:   "websocket",
		IPAddress:   ip,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
	}
	h.pool.Register(pc)

	client := newClient(h, conn, socketID, principal)
	h.mu.Lock()
	h.clients[socketID] = client
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()

	client.sendEvent(events.NameConnected, ConnectedPayload{
		SocketID:  socketID,
		UserID:    principal.UserID,
		Timestamp: time.Now().UnixMilli(),
	})

	go client.writePump()
	go client.readPump()

	return client
}

// ForceDisconnect evicts socketID and closes its transport immediately,
// whether or not the client is still reachable. Exposed for the (out of
// core scope) HTTP admin surface to call.
func (h *Hub) ForceDisconnect(socketID string) {
	h.forceDisconnect(socketID)
}

// DisconnectUser force-disconnects every session registered for userID.
// Exposed for the (out of core scope) HTTP admin surface to call.
func (h *Hub) DisconnectUser(userID string) {
	h.disconnectUser(userID)
}

// Stats reports the current pool occupancy, using 2x the configured ping
// timeout as the staleness threshold.
func (h *Hub) Stats() pool.Stats {
	return h.pool.Stats(2 * h.cfg.PingTimeout)
}

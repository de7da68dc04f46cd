package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/collabgateway/gateway/internal/v1/errcatalog"
	"github.com/collabgateway/gateway/internal/v1/events"
	"github.com/collabgateway/gateway/internal/v1/lockengine"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/collabgateway/gateway/internal/v1/metrics"
	"github.com/collabgateway/gateway/internal/v1/presence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// dispatch decodes one inbound frame and routes it to its handler. Handlers
// never panic the transport: malformed payloads and domain failures are
// always answered with a reply or error frame, never a dropped connection.
func (h *Hub) dispatch(c *Client, raw []byte) {
	start := time.Now()

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError(errcatalog.New(errcatalog.CodeInvalidPayload, "frame is not valid JSON"))
		return
	}
	name := events.Name(f.Event)

	ctx, span := otel.Tracer("gateway").Start(context.Background(), "ws.dispatch")
	span.SetAttributes(
		attribute.String("event", f.Event),
		attribute.String("socket.id", c.socketID),
	)
	defer span.End()

	if h.limiter != nil && !h.limiter.CheckWebSocketEvent(ctx, c.socketID) {
		c.sendError(errcatalog.New(errcatalog.CodeRateLimitExceeded, "rate limit exceeded"))
		metrics.GatewayEvents.WithLabelValues(f.Event, "rate_limited").Inc()
		return
	}

	status := "ok"
	switch name {
	case events.NameResourceJoin:
		h.handleResourceJoin(c, f.Payload)
	case events.NameResourceLeave:
		h.handleResourceLeave(c, f.Payload)
	case events.NameLockAcquire:
		h.handleLockAcquire(c, f.Payload)
	case events.NameLockRelease:
		h.handleLockRelease(c, f.Payload)
	case events.NameLockRenew:
		h.handleLockRenew(c, f.Payload)
	case events.NameLockGetHolder:
		h.handleLockGetHolder(c, f.Payload)
	default:
		status = "unrecognized"
		c.sendError(errcatalog.New(errcatalog.CodeInvalidPayload, "unrecognized event: "+f.Event))
	}

	metrics.GatewayEvents.WithLabelValues(f.Event, status).Inc()
	metrics.EventDispatchDuration.WithLabelValues(f.Event).Observe(time.Since(start).Seconds())
}

// handleResourceJoin processes an inbound resource:join frame.
func (h *Hub) handleResourceJoin(c *Client, raw json.RawMessage) {
	var req ResourceJoinRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ResourceID == "" {
		c.sendError(errcatalog.New(errcatalog.CodeMissingRequiredField, "resourceId is required"))
		return
	}

	result := h.presence.Join(req.ResourceID, c.socketID, c.principal.UserID, c.principal.Username, c.principal.Email, presence.Mode(req.Mode))

	reply := ResourceJoinedPayload{
		ResourceID: req.ResourceID,
		UserID:     c.principal.UserID,
		Success:    result.Success,
		Users:      toUserDTOs(result.Users),
		Message:    result.Message,
	}
	for _, u := range result.Users {
		if u.SocketID == c.socketID {
			reply.JoinedAt = u.JoinedAt.UnixMilli()
			break
		}
	}
	c.sendEvent(events.NameResourceJoined, reply)

	if !result.Success {
		return
	}

	broadcast := UserJoinedPayload{
		ResourceID: req.ResourceID,
		UserID:     c.principal.UserID,
		Username:   c.principal.Username,
		Email:      c.principal.Email,
		SocketID:   c.socketID,
		JoinedAt:   reply.JoinedAt,
		Mode:       req.Mode,
	}
	h.broadcastRoom(result.NotifyRecipients, events.NameUserJoined, broadcast)

	if result.AllUsers != nil {
		c.sendEvent(events.NameResourceAllUsers, toAllUsersPayload(*result.AllUsers))
	}

	h.updateRoomMetrics(req.ResourceID)
}

// handleResourceLeave processes an inbound resource:leave frame.
func (h *Hub) handleResourceLeave(c *Client, raw json.RawMessage) {
	var req ResourceLeaveRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ResourceID == "" {
		c.sendError(errcatalog.New(errcatalog.CodeMissingRequiredField, "resourceId is required"))
		return
	}

	result := h.presence.Leave(req.ResourceID, c.socketID)

	c.sendEvent(events.NameResourceLeft, ResourceLeftPayload{
		ResourceID: req.ResourceID,
		UserID:     c.principal.UserID,
		Success:    result.Success,
		Message:    result.Message,
	})

	if !result.Success {
		return
	}

	h.broadcastRoom(result.NotifyRecipients, events.NameUserLeft, UserLeftPayload{
		ResourceID: req.ResourceID,
		UserID:     c.principal.UserID,
		Username:   c.principal.Username,
		Email:      c.principal.Email,
		Reason:     "manual",
	})

	h.updateRoomMetrics(req.ResourceID)
}

// updateRoomMetrics refreshes the per-room occupancy gauge and the global
// non-empty-room count after a membership mutation.
func (h *Hub) updateRoomMetrics(resourceID string) {
	metrics.RoomOccupancy.WithLabelValues(resourceID).Set(float64(h.presence.RoomSize(resourceID)))
	metrics.ActiveRooms.Set(float64(h.presence.RoomCount()))
}

func parseLockRequest(c *Client, raw json.RawMessage) (LockRequest, bool) {
	var req LockRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ResourceID == "" {
		c.sendError(errcatalog.New(errcatalog.CodeMissingRequiredField, "resourceId is required"))
		return req, false
	}
	return req, true
}

// handleLockAcquire processes an inbound lock:acquire frame. LOCK_ACQUIRED
// fans out to every current occupant of the resource's room; the acquiring
// client also gets it directly, since they are not necessarily a presence
// room member.
func (h *Hub) handleLockAcquire(c *Client, raw json.RawMessage) {
	req, ok := parseLockRequest(c, raw)
	if !ok {
		return
	}

	ttl := h.cfg.LockTTL
	if req.TTLMs > 0 {
		ttl = time.Duration(req.TTLMs) * time.Millisecond
	}

	ok = h.locks.Acquire(context.Background(), req.ResourceID, c.principal.UserID, ttl)
	metrics.LockOperations.WithLabelValues("acquire", outcomeLabel(ok)).Inc()
	if !ok {
		c.sendError(errcatalog.New(errcatalog.CodeLockAcquireFailed, "resource is locked by another user"))
		return
	}

	c.trackLock(req.ResourceID)
	holder, _ := h.locks.GetHolder(context.Background(), req.ResourceID)
	h.broadcastLockEvent(events.NameLockAcquired, req.ResourceID, c, holder)
}

// handleLockRelease processes an inbound lock:release frame.
func (h *Hub) handleLockRelease(c *Client, raw json.RawMessage) {
	req, ok := parseLockRequest(c, raw)
	if !ok {
		return
	}

	ok = h.locks.Release(context.Background(), req.ResourceID, c.principal.UserID)
	metrics.LockOperations.WithLabelValues("release", outcomeLabel(ok)).Inc()
	if !ok {
		c.sendError(errcatalog.New(errcatalog.CodeLockReleaseFailed, "lock not held by this user"))
		return
	}

	c.untrackLock(req.ResourceID)
	h.broadcastLockEvent(events.NameLockReleased, req.ResourceID, c, lockengine.Holder{UserID: c.principal.UserID})
}

// handleLockRenew processes an inbound lock:renew frame.
func (h *Hub) handleLockRenew(c *Client, raw json.RawMessage) {
	req, ok := parseLockRequest(c, raw)
	if !ok {
		return
	}

	ttl := h.cfg.LockTTL
	if req.TTLMs > 0 {
		ttl = time.Duration(req.TTLMs) * time.Millisecond
	}

	ok = h.locks.Renew(context.Background(), req.ResourceID, c.principal.UserID, ttl)
	metrics.LockOperations.WithLabelValues("renew", outcomeLabel(ok)).Inc()
	if !ok {
		c.sendError(errcatalog.New(errcatalog.CodeLockExtendFailed, "lock not held by this user"))
		return
	}

	c.trackLock(req.ResourceID)
	holder, _ := h.locks.GetHolder(context.Background(), req.ResourceID)
	h.broadcastLockEvent(events.NameLockAcquired, req.ResourceID, c, holder)
}

// handleLockGetHolder processes an inbound lock:getHolder frame, replying
// only to the requester.
func (h *Hub) handleLockGetHolder(c *Client, raw json.RawMessage) {
	req, ok := parseLockRequest(c, raw)
	if !ok {
		return
	}

	holder, present := h.locks.GetHolder(context.Background(), req.ResourceID)
	c.sendEvent(events.NameLockHolder, LockHolderPayload{
		ResourceID: req.ResourceID,
		Held:       present,
		UserID:     holder.UserID,
		AcquiredAt: holder.AcquiredAt,
		ExpiresAt:  holder.ExpiresAt,
	})
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// broadcastLockEvent fans a lock event out to every occupant of the
// resource's presence room, plus the acting client directly, since the
// actor is not necessarily a room member. The occupant fan-out excludes the
// actor so nobody receives the event twice.
func (h *Hub) broadcastLockEvent(name events.Name, resourceID string, actor *Client, holder lockengine.Holder) {
	payload := LockEventPayload{
		ResourceID: resourceID,
		UserID:     holder.UserID,
		AcquiredAt: holder.AcquiredAt,
		ExpiresAt:  holder.ExpiresAt,
	}
	actor.sendEvent(name, payload)
	if route, ok := events.Lookup(name); !ok || route.Scope != events.ScopeRoom {
		return
	}
	occupants := h.presence.Occupants(resourceID)
	h.sendToSocketsExcept(occupants, actor.socketID, name, payload)
}

// broadcastRoom delivers name/payload to ids, but only for events the
// routing table declares room-scoped; an event with no room route is never
// fanned out to other members.
func (h *Hub) broadcastRoom(ids []string, name events.Name, payload any) {
	if route, ok := events.Lookup(name); !ok || route.Scope != events.ScopeRoom {
		return
	}
	h.sendToSockets(ids, name, payload)
}

// sendToSockets delivers name/payload to every socketID in ids that is
// currently registered on this instance; unknown ids (already disconnected)
// are silently skipped.
func (h *Hub) sendToSockets(ids []string, name events.Name, payload any) {
	h.sendToSocketsExcept(ids, "", name, payload)
}

func (h *Hub) sendToSocketsExcept(ids []string, except string, name events.Name, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if id == except {
			continue
		}
		if c, ok := h.clients[id]; ok {
			c.sendEvent(name, payload)
		}
	}
}

// cleanupClient runs the full disconnect sweep exactly once per client:
// presence cleanup, cascaded lock release, pool eviction, and a single
// summary log line. Safe to call multiple times (e.g. once from readPump's
// defer and once from a concurrent forceDisconnect) thanks to cleanupOnce.
func (h *Hub) cleanupClient(c *Client) {
	c.cleanupOnce.Do(func() {
		c.closeSend()

		h.mu.Lock()
		delete(h.clients, c.socketID)
		h.mu.Unlock()

		h.pool.Remove(c.socketID)
		metrics.ActiveConnections.Dec()

		disc := h.presence.OnDisconnect(c.socketID)
		for _, notice := range disc.RoomsLeft {
			h.broadcastRoom(notice.Recipients, events.NameUserLeft, UserLeftPayload{
				ResourceID: notice.ResourceID,
				UserID:     c.principal.UserID,
				Username:   c.principal.Username,
				Email:      c.principal.Email,
				Reason:     "disconnect",
			})
			h.updateRoomMetrics(notice.ResourceID)
		}

		released := h.locks.ReleaseAllForUser(context.Background(), c.principal.UserID, c.heldLockIDs())

		logging.Info(context.Background(), "DISCONNECT_CLEANUP_COMPLETED",
			zap.String("socketId", c.socketID),
			zap.String("userId", c.principal.UserID),
			zap.Int("roomsLeft", len(disc.RoomsLeft)),
			zap.Int("locksReleased", released),
		)
	})
}

// forceDisconnect evicts socketID from the pool and closes its transport,
// regardless of whether the transport-level disconnect has already
// happened. Immediate and not cancellable.
func (h *Hub) forceDisconnect(socketID string) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	_ = c.conn.Close()
	h.cleanupClient(c)
}

// disconnectUser force-disconnects every session currently registered for
// userID, iterating a snapshot so concurrent cleanup cannot skip entries.
func (h *Hub) disconnectUser(userID string) {
	for _, socketID := range h.pool.ListByUser(userID) {
		h.forceDisconnect(socketID)
	}
}

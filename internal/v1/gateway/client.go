package gateway

import (
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/auth"
	"github.com/collabgateway/gateway/internal/v1/errcatalog"
	"github.com/collabgateway/gateway/internal/v1/events"
	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeWait bounds every individual WriteMessage call.
const writeWait = 10 * time.Second

// wsConnection is the subset of *websocket.Conn the Client depends on, so
// tests can substitute a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// priorityEvents are control/acknowledgement frames that must not queue
// behind ordinary room chatter; everything else goes on the normal channel.
var priorityEvents = map[events.Name]bool{
	events.NameConnected:        true,
	events.NameConnectError:     true,
	events.NameResourceJoined:   true,
	events.NameResourceLeft:     true,
	events.NameResourceAllUsers: true,
	events.NameLockAcquired:     true,
	events.NameLockReleased:     true,
	events.NameLockStolen:       true,
	events.NameServerShutdown:   true,
	events.NameError:            true,
}

// Client is a single registered session: its transport connection plus the
// buffered, priority-aware send path the write pump drains.
type Client struct {
	conn      wsConnection
	hub       *Hub
	socketID  string
	principal auth.Principal

	send         chan []byte
	prioritySend chan []byte

	mu          sync.Mutex
	closed      bool
	cleanupOnce sync.Once

	locksMu   sync.Mutex
	heldLocks map[string]struct{} // resourceIds this client currently holds a lock on
}

func newClient(hub *Hub, conn wsConnection, socketID string, principal auth.Principal) *Client {
	return &Client{
		conn:         conn,
		hub:          hub,
		socketID:     socketID,
		principal:    principal,
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
		heldLocks:    make(map[string]struct{}),
	}
}

// trackLock/untrackLock record which resources this client currently holds a
// lock on, independent of presence room membership: a connection may acquire
// a lock on a resource it never joined. cleanupClient and the lock-heartbeat
// sweep both rely on this set rather than on presence.OnDisconnect's room
// list, since those are not the same set of resourceIds.
func (c *Client) trackLock(resourceID string) {
	c.locksMu.Lock()
	c.heldLocks[resourceID] = struct{}{}
	c.locksMu.Unlock()
}

func (c *Client) untrackLock(resourceID string) {
	c.locksMu.Lock()
	delete(c.heldLocks, resourceID)
	c.locksMu.Unlock()
}

// heldLockIDs returns a snapshot of the resourceIds this client currently
// holds a lock on.
func (c *Client) heldLockIDs() []string {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	ids := make([]string, 0, len(c.heldLocks))
	for id := range c.heldLocks {
		ids = append(ids, id)
	}
	return ids
}

// sendEvent marshals name/payload into a frame and enqueues it on the
// appropriate channel. A full channel drops the message rather than
// blocking the write pump, per the resource policy's no-unbounded-queues
// rule; the session is left for the stale reaper to eventually catch if it
// is genuinely wedged.
func (c *Client) sendEvent(name events.Name, payload any) {
	data, err := marshalFrameJSON(name, payload)
	if err != nil {
		logging.Error(nil, "failed to marshal outbound frame", zap.String("event", string(name)), zap.Error(err)) //nolint:staticcheck
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	ch := c.send
	if priorityEvents[name] {
		ch = c.prioritySend
	}

	select {
	case ch <- data:
	default:
		logging.Warn(nil, "client send channel full, dropping frame", zap.String("socketId", c.socketID), zap.String("event", string(name))) //nolint:staticcheck
	}
}

// sendError wraps an errcatalog envelope in the generic "error" event.
func (c *Client) sendError(e *errcatalog.Error) {
	c.sendEvent(events.NameError, e)
}

// readPump drives inbound frames until the connection breaks, then hands
// off to the hub for idempotent cleanup. Each pong refreshes the read
// deadline and the pool's activity timestamp.
func (c *Client) readPump() {
	defer c.hub.cleanupClient(c)

	pingTimeout := c.hub.cfg.PingTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(pingTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.hub.pool.Touch(c.socketID)
		return c.conn.SetReadDeadline(time.Now().Add(pingTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.pool.Touch(c.socketID)
		c.hub.dispatch(c, data)
	}
}

// writePump drains both send channels and drives the heartbeat ticker.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeMessage(websocket.TextMessage, msg) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeMessage(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return false
	}
	return true
}

// closeSend marks the client closed and closes both send channels, which
// drives the write pump to emit a close frame and exit. Idempotent.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.prioritySend)
}

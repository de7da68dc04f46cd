// Package pool implements the connection pool: the in-memory registry of
// live sessions, indexed by socketId and userId, with per-user cap
// enforcement and staleness accounting.
package pool

import (
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/auth"
	"k8s.io/utils/set"
)

// Connection is one bidirectional session registered in the pool.
type Connection struct {
	SocketID  string
	Principal auth.Principal
	Transport string
	IPAddress string
	UserAgent string

	ConnectedAt    time.Time
	lastActivityAt time.Time
}

// LastActivityAt returns the most recent time this connection advanced
// liveness, either via an accepted inbound frame or a transport pong.
func (c *Connection) LastActivityAt() time.Time {
	return c.lastActivityAt
}

// Stats summarizes the pool's current occupancy for observability.
type Stats struct {
	Total       int
	UniqueUsers int
	ByTransport map[string]int
	StaleCount  int
}

// Pool is the registry of live connections. A single mutex guards both
// indices: registration and removal must stay all-or-nothing, so a socketId
// is in the pool iff its handler is live.
type Pool struct {
	mu                    sync.RWMutex
	byID                  map[string]*Connection
	byUser                map[string]set.Set[string]
	maxConnectionsPerUser int
	now                   func() time.Time
}

// New builds an empty Pool enforcing maxConnectionsPerUser per user.
func New(maxConnectionsPerUser int) *Pool {
	return &Pool{
		byID:                  make(map[string]*Connection),
		byUser:                make(map[string]set.Set[string]),
		maxConnectionsPerUser: maxConnectionsPerUser,
		now:                   time.Now,
	}
}

// CapExceeded reports whether userId already holds the maximum permitted
// number of concurrent connections. Callers must check this before
// Register; Register itself does not re-check so that the check-then-act
// sequence around the handshake stays atomic under the caller's own lock-step.
func (p *Pool) CapExceeded(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byUser[userID].Len() >= p.maxConnectionsPerUser
}

// Register inserts conn into both indices. The caller has already verified
// CapExceeded returned false; Register is all-or-nothing so the pool never
// observes a partially registered connection.
func (p *Pool) Register(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn.lastActivityAt = p.now()
	p.byID[conn.SocketID] = conn

	userID := conn.Principal.UserID
	sockets, ok := p.byUser[userID]
	if !ok {
		sockets = set.New[string]()
		p.byUser[userID] = sockets
	}
	sockets.Insert(conn.SocketID)
}

// Get returns the connection registered under socketID, if any.
func (p *Pool) Get(socketID string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byID[socketID]
	return c, ok
}

// ListByUser returns the live socketIds currently registered for userID.
func (p *Pool) ListByUser(userID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byUser[userID].UnsortedList()
}

// Size returns the total number of registered connections.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// ForEach invokes fn for a snapshot of every registered connection. fn is
// called outside the pool's lock so it must not call back into the pool.
func (p *Pool) ForEach(fn func(*Connection)) {
	p.mu.RLock()
	snapshot := make([]*Connection, 0, len(p.byID))
	for _, c := range p.byID {
		snapshot = append(snapshot, c)
	}
	p.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// Remove evicts socketID from both indices, purging the user's set entry
// entirely once it is empty. Returns the removed connection, if any, so
// callers can cascade cleanup (presence, locks) without a second lookup.
func (p *Pool) Remove(socketID string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.byID[socketID]
	if !ok {
		return nil, false
	}
	delete(p.byID, socketID)

	userID := conn.Principal.UserID
	if sockets, ok := p.byUser[userID]; ok {
		sockets.Delete(socketID)
		if sockets.Len() == 0 {
			delete(p.byUser, userID)
		}
	}
	return conn, true
}

// Touch advances socketID's lastActivityAt to now.
func (p *Pool) Touch(socketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.byID[socketID]; ok {
		c.lastActivityAt = p.now()
	}
}

// Stats reports pool occupancy. staleThreshold is 2x the configured
// pingTimeout.
func (p *Pool) Stats(staleThreshold time.Duration) Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	s := Stats{
		Total:       len(p.byID),
		UniqueUsers: len(p.byUser),
		ByTransport: make(map[string]int),
	}
	for _, c := range p.byID {
		s.ByTransport[c.Transport]++
		if now.Sub(c.lastActivityAt) > staleThreshold {
			s.StaleCount++
		}
	}
	return s
}

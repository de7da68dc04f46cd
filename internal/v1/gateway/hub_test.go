package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/collabgateway/gateway/internal/v1/auth"
	"github.com/collabgateway/gateway/internal/v1/config"
	"github.com/collabgateway/gateway/internal/v1/errcatalog"
	"github.com/collabgateway/gateway/internal/v1/events"
	"github.com/collabgateway/gateway/internal/v1/lockengine"
	"github.com/collabgateway/gateway/internal/v1/pool"
	"github.com/collabgateway/gateway/internal/v1/presence"
	"github.com/collabgateway/gateway/internal/v1/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a trivial in-memory lockstore.Store fake: good enough for
// gateway-level tests, which exercise ownership semantics rather than
// actual TTL expiry (covered by internal/v1/lockengine's own tests against
// miniredis).
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) PutIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false
	}
	s.data[key] = value
	return true
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) Pttl(_ context.Context, key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return -2
	}
	return -1
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return true
}

func (s *memStore) Delete(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// fakeConn is a minimal wsConnection double: ReadMessage blocks on an
// internal channel so readPump idles until the test feeds it data or closes
// it, and WriteMessage records every frame so a test can assert on it.
type fakeConn struct {
	mu     sync.Mutex
	outbox [][]byte
	closed bool
	inbox  chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.inbox
	if !ok {
		return 0, nil, errClosedFakeConn
	}
	return 1, msg, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.outbox = append(f.outbox, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

var errClosedFakeConn = &closedConnError{}

type closedConnError struct{}

func (*closedConnError) Error() string { return "fakeConn: closed" }

func testConfig() *config.Config {
	return &config.Config{
		Enabled:               true,
		PingInterval:          time.Minute,
		PingTimeout:           10 * time.Second,
		StaleSweepInterval:    time.Minute,
		ShutdownTimeout:       30 * time.Millisecond,
		MaxConnectionsPerUser: 5,
		DefaultRoomLimit:      50,
	}
}

func newTestHub(limiter *ratelimit.Limiter) *Hub {
	cfg := testConfig()
	p := pool.New(cfg.MaxConnectionsPerUser)
	pres := presence.New(cfg.RoomLimitFor)
	locks := lockengine.New(newMemStore())
	return NewHub(cfg, &auth.MockValidator{}, p, pres, locks, limiter)
}

// connectTestClient registers a client directly (bypassing ServeWs's HTTP
// handshake) without starting the read/write pumps, so tests can drive
// dispatch and inspect the client's send channels deterministically.
func connectTestClient(h *Hub, socketID, userID, username, email string) *Client {
	principal := auth.Principal{UserID: userID, Username: username, Email: email}
	h.pool.Register(&pool.Connection{
		SocketID:    socketID,
		Principal:   principal,
		Transport:   "websocket",
		ConnectedAt: time.Now(),
	})
	c := newClient(h, newFakeConn(), socketID, principal)
	h.mu.Lock()
	h.clients[socketID] = c
	h.mu.Unlock()
	return c
}

func recvFrame(t *testing.T, ch chan []byte) frame {
	t.Helper()
	select {
	case data := <-ch:
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func assertNoFrame(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("expected no frame, got %s", string(data))
	case <-time.After(20 * time.Millisecond):
	}
}

func joinFrame(t *testing.T, resourceID, resourceType, mode string) []byte {
	t.Helper()
	data, err := marshalFrameJSON(events.NameResourceJoin, ResourceJoinRequest{ResourceID: resourceID, ResourceType: resourceType, Mode: mode})
	require.NoError(t, err)
	return data
}

func leaveFrame(t *testing.T, resourceID string) []byte {
	t.Helper()
	data, err := marshalFrameJSON(events.NameResourceLeave, ResourceLeaveRequest{ResourceID: resourceID})
	require.NoError(t, err)
	return data
}

func lockFrame(t *testing.T, name events.Name, resourceID string, ttlMs int64) []byte {
	t.Helper()
	data, err := marshalFrameJSON(name, LockRequest{ResourceID: resourceID, TTLMs: ttlMs})
	require.NoError(t, err)
	return data
}

func TestHub_TwoTabPresence(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "alice@example.com")
	bob := connectTestClient(h, "sock-bob", "bob", "Bob", "bob@example.com")

	h.dispatch(alice, joinFrame(t, "doc:42/tab:A", "doc", "editor"))
	aliceJoined := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameResourceJoined), aliceJoined.Event)
	// Joining a sub-resource also sends the joiner the resource:all_users snapshot.
	aliceAllUsers := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameResourceAllUsers), aliceAllUsers.Event)

	h.dispatch(bob, joinFrame(t, "doc:42/tab:B", "doc", "viewer"))

	bobJoined := recvFrame(t, bob.prioritySend)
	assert.Equal(t, string(events.NameResourceJoined), bobJoined.Event)
	var joinedPayload ResourceJoinedPayload
	require.NoError(t, json.Unmarshal(bobJoined.Payload, &joinedPayload))
	require.Len(t, joinedPayload.Users, 1)
	assert.Equal(t, "bob", joinedPayload.Users[0].UserID)

	allUsers := recvFrame(t, bob.prioritySend)
	assert.Equal(t, string(events.NameResourceAllUsers), allUsers.Event)
	var snapshot ResourceAllUsersPayload
	require.NoError(t, json.Unmarshal(allUsers.Payload, &snapshot))
	assert.Equal(t, "doc:42", snapshot.ParentResourceID)
	assert.Equal(t, 2, snapshot.TotalCount)

	// Alice, alone in tab:A, receives nothing from Bob joining tab:B.
	assertNoFrame(t, alice.send)
	assertNoFrame(t, alice.prioritySend)
}

func TestHub_JoinBroadcastsToOtherRoomMembers(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")
	bob := connectTestClient(h, "sock-bob", "bob", "Bob", "")

	h.dispatch(alice, joinFrame(t, "doc:1", "doc", "editor"))
	recvFrame(t, alice.prioritySend) // resource:joined to alice

	h.dispatch(bob, joinFrame(t, "doc:1", "doc", "viewer"))
	recvFrame(t, bob.prioritySend) // resource:joined to bob

	notice := recvFrame(t, alice.send)
	assert.Equal(t, string(events.NameUserJoined), notice.Event)
	var joined UserJoinedPayload
	require.NoError(t, json.Unmarshal(notice.Payload, &joined))
	assert.Equal(t, "bob", joined.UserID)
}

func TestHub_JoinIdempotentSecondCallFails(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	h.dispatch(alice, joinFrame(t, "doc:1", "doc", "editor"))
	recvFrame(t, alice.prioritySend)

	h.dispatch(alice, joinFrame(t, "doc:1", "doc", "editor"))
	second := recvFrame(t, alice.prioritySend)
	var payload ResourceJoinedPayload
	require.NoError(t, json.Unmarshal(second.Payload, &payload))
	assert.False(t, payload.Success)
	assert.Equal(t, "already joined", payload.Message)
}

func TestHub_LeaveUnknownResourceFails(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	h.dispatch(alice, leaveFrame(t, "doc:1"))
	reply := recvFrame(t, alice.prioritySend)
	var payload ResourceLeftPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.False(t, payload.Success)
}

func TestHub_LockAcquireReleaseFlow(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")
	bob := connectTestClient(h, "sock-bob", "bob", "Bob", "")

	h.dispatch(alice, lockFrame(t, events.NameLockAcquire, "surgery:1", 0))
	acquired := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameLockAcquired), acquired.Event)

	// Bob cannot acquire the same lock while Alice holds it.
	h.dispatch(bob, lockFrame(t, events.NameLockAcquire, "surgery:1", 0))
	failure := recvFrame(t, bob.prioritySend)
	assert.Equal(t, string(events.NameError), failure.Event)
	var errPayload errcatalog.Error
	require.NoError(t, json.Unmarshal(failure.Payload, &errPayload))
	assert.Equal(t, errcatalog.CodeLockAcquireFailed, errPayload.Code)

	// Bob cannot release Alice's lock.
	h.dispatch(bob, lockFrame(t, events.NameLockRelease, "surgery:1", 0))
	releaseFail := recvFrame(t, bob.prioritySend)
	assert.Equal(t, string(events.NameError), releaseFail.Event)

	h.dispatch(alice, lockFrame(t, events.NameLockRelease, "surgery:1", 0))
	released := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameLockReleased), released.Event)

	h.dispatch(bob, lockFrame(t, events.NameLockGetHolder, "surgery:1", 0))
	holder := recvFrame(t, bob.send)
	assert.Equal(t, string(events.NameLockHolder), holder.Event)
	var holderPayload LockHolderPayload
	require.NoError(t, json.Unmarshal(holder.Payload, &holderPayload))
	assert.False(t, holderPayload.Held)
}

func TestHub_RateLimitDeniesSecondFrame(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{Limit: 1, Window: time.Minute}, "test")
	h := newTestHub(limiter)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	h.dispatch(alice, joinFrame(t, "doc:1", "doc", "editor"))
	recvFrame(t, alice.prioritySend)

	h.dispatch(alice, joinFrame(t, "doc:2", "doc", "editor"))
	denied := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameError), denied.Event)
	var errPayload errcatalog.Error
	require.NoError(t, json.Unmarshal(denied.Payload, &errPayload))
	assert.Equal(t, errcatalog.CodeRateLimitExceeded, errPayload.Code)
}

func TestHub_UnrecognizedEventRepliesWithError(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	data, err := marshalFrameJSON("not:a:real:event", map[string]string{})
	require.NoError(t, err)
	h.dispatch(alice, data)

	reply := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameError), reply.Event)
}

func TestHub_DisconnectCleanupReleasesRoomsAndLocks(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")
	bob := connectTestClient(h, "sock-bob", "bob", "Bob", "")

	h.dispatch(alice, joinFrame(t, "room:1", "room", "editor"))
	recvFrame(t, alice.prioritySend)
	h.dispatch(bob, joinFrame(t, "room:1", "room", "viewer"))
	recvFrame(t, bob.prioritySend)
	recvFrame(t, alice.send) // user:joined for bob

	h.dispatch(alice, lockFrame(t, events.NameLockAcquire, "room:1", 0))
	recvFrame(t, alice.prioritySend)

	h.cleanupClient(alice)

	left := recvFrame(t, bob.send)
	assert.Equal(t, string(events.NameUserLeft), left.Event)
	var leftPayload UserLeftPayload
	require.NoError(t, json.Unmarshal(left.Payload, &leftPayload))
	assert.Equal(t, "disconnect", leftPayload.Reason)

	// Bob is still in room:1; only Alice's membership is gone.
	assert.Equal(t, 1, h.presence.RoomSize("room:1"))
	assert.NotContains(t, h.presence.Occupants("room:1"), "sock-alice")
	_, held := h.locks.GetHolder(context.Background(), "room:1")
	assert.False(t, held)

	_, ok := h.pool.Get("sock-alice")
	assert.False(t, ok)

	// Idempotent: a second cleanup call must not panic or double-broadcast.
	h.cleanupClient(alice)
	assertNoFrame(t, bob.send)
}

// A client may acquire a lock on a resource it never joined via
// resource:join; cleanupClient must still release it on disconnect (it
// cannot rely on presence's room membership list to find held locks).
func TestHub_DisconnectReleasesLockOnResourceNeverJoined(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	h.dispatch(alice, lockFrame(t, events.NameLockAcquire, "doc:99", 0))
	recvFrame(t, alice.prioritySend)

	assert.Equal(t, 0, h.presence.RoomSize("doc:99"))

	h.cleanupClient(alice)

	_, held := h.locks.GetHolder(context.Background(), "doc:99")
	assert.False(t, held)
}

func TestHub_Shutdown_BroadcastsAndDisconnects(t *testing.T) {
	h := newTestHub(nil)
	alice := connectTestClient(h, "sock-alice", "alice", "Alice", "")

	h.Shutdown(context.Background())

	shutdown := recvFrame(t, alice.prioritySend)
	assert.Equal(t, string(events.NameServerShutdown), shutdown.Event)

	_, ok := h.pool.Get("sock-alice")
	assert.False(t, ok)
}

// Package events declares the static event routing table: for each logical
// event, its wire name, fan-out scope, and optional cross-instance retry
// policy. Route selection is a pure lookup; actual delivery lives in the
// gateway package.
package events

// Scope is the fan-out scope of an event.
type Scope string

const (
	// ScopeRoom delivers to every subscriber of the resource room, except
	// where a handler explicitly excludes the originating session.
	ScopeRoom Scope = "room"
	// ScopeUser delivers only to the originating user's own sessions.
	ScopeUser Scope = "user"
	// ScopeGlobal delivers to every connection on this gateway instance.
	ScopeGlobal Scope = "global"
)

// Name is a wire event name.
type Name string

const (
	NameConnected      Name = "CONNECTED"
	NameConnectError   Name = "CONNECT_ERROR"
	NameResourceJoin   Name = "resource:join"
	NameResourceJoined Name = "resource:joined"
	NameResourceLeave  Name = "resource:leave"
	NameResourceLeft   Name = "resource:left"
	// Inbound lock operations. Unlike the resource:* pairs, acquire, release
	// and renew have no distinct reply event name: the outcome is reported
	// via the LOCK_ACQUIRED (also sent on renew)/LOCK_RELEASED broadcast
	// below, or an "error" frame on failure
	// (LOCK_ACQUIRE_FAILED/LOCK_RELEASE_FAILED/LOCK_EXTEND_FAILED).
	// lock:getHolder is answered with lock:holder.
	NameLockAcquire      Name = "lock:acquire"
	NameLockRelease      Name = "lock:release"
	NameLockRenew        Name = "lock:renew"
	NameLockGetHolder    Name = "lock:getHolder"
	NameUserJoined       Name = "user:joined"
	NameUserLeft         Name = "user:left"
	NameResourceAllUsers Name = "resource:all_users"
	NameLockAcquired     Name = "LOCK_ACQUIRED"
	NameLockReleased     Name = "LOCK_RELEASED"
	NameLockStolen       Name = "LOCK_STOLEN"
	// NameLockHolder replies to an inbound lock:getHolder, to the requester only.
	NameLockHolder     Name = "lock:holder"
	NameServerShutdown Name = "SERVER_SHUTDOWN"
	// NameError carries a standard error envelope for any mid-session
	// failure that does not force a disconnect (rate limit denial,
	// malformed payload, lock conflict). CONNECT_ERROR is reserved for
	// handshake/registration failures specifically.
	NameError Name = "error"
)

// RetryPolicy governs cross-instance redelivery. It is declared for every
// routed event but its realization (actually retrying a cross-instance
// publish) is out of this module's scope; see internal/v1/bus.
type RetryPolicy struct {
	MaxRetries int
	BackoffMs  int
}

// Route describes where and how an event fans out.
type Route struct {
	Scope Scope
	Retry *RetryPolicy
}

// Table is the static event → route declaration. Handlers look up their
// outbound event name here rather than hard-coding fan-out logic inline.
var Table = map[Name]Route{
	NameConnected:        {Scope: ScopeUser},
	NameConnectError:     {Scope: ScopeUser},
	NameResourceJoined:   {Scope: ScopeUser},
	NameResourceLeft:     {Scope: ScopeUser},
	NameUserJoined:       {Scope: ScopeRoom, Retry: &RetryPolicy{MaxRetries: 3, BackoffMs: 200}},
	NameUserLeft:         {Scope: ScopeRoom, Retry: &RetryPolicy{MaxRetries: 3, BackoffMs: 200}},
	NameResourceAllUsers: {Scope: ScopeUser},
	NameLockAcquired:     {Scope: ScopeRoom, Retry: &RetryPolicy{MaxRetries: 3, BackoffMs: 200}},
	NameLockReleased:     {Scope: ScopeRoom, Retry: &RetryPolicy{MaxRetries: 3, BackoffMs: 200}},
	NameLockStolen:       {Scope: ScopeRoom, Retry: &RetryPolicy{MaxRetries: 3, BackoffMs: 200}},
	NameServerShutdown:   {Scope: ScopeGlobal},
	NameError:            {Scope: ScopeUser},
	NameLockHolder:       {Scope: ScopeUser},
}

// Lookup returns the route for name, and whether it is declared.
func Lookup(name Name) (Route, bool) {
	r, ok := Table[name]
	return r, ok
}

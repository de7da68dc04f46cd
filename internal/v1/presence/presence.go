// Package presence implements the presence/room engine: per-resource user
// maps, the join/leave protocol, cross-tab (parent/sub-resource)
// enumeration, and the on-disconnect sweep.
//
// Every mutation happens under a single mutex and returns the recipients a
// caller must notify, so broadcasting always happens after the mutex is
// released. The Engine has no transport of its own, which keeps lock-order
// inversions with the transport layer impossible by construction.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/collabgateway/gateway/internal/v1/errcatalog"
	"github.com/collabgateway/gateway/internal/v1/resourceid"
)

// Mode is the per-membership access tag the engine validates and stores;
// enforcement of edit permissions is out of scope (external role mapping).
type Mode string

const (
	ModeEditor Mode = "editor"
	ModeViewer Mode = "viewer"
)

func validMode(m Mode) bool {
	return m == ModeEditor || m == ModeViewer
}

// ResourceUser is one connection's membership in one resource room.
type ResourceUser struct {
	UserID         string
	Username       string
	Email          string
	SocketID       string
	JoinedAt       time.Time
	Mode           Mode
	LastActivityAt time.Time
}

// SubResourceUsers is one parent's sub-resource occupant listing, used in
// the cross-tab snapshot.
type SubResourceUsers struct {
	SubResourceID string
	Users         []ResourceUser
}

// AllUsersSnapshot is the cross-tab presence payload sent only to a joiner
// of a sub-resource (the resource:all_users event).
type AllUsersSnapshot struct {
	ParentResourceID     string
	CurrentSubResourceID string
	SubResources         []SubResourceUsers
	TotalCount           int
}

// JoinResult is the outcome of a Join call. Callers must send Users/Message
// back to the joining socket, then (only if Success) broadcast USER_JOINED
// to NotifyRecipients and, if AllUsers is non-nil, send it to the joiner.
type JoinResult struct {
	Success          bool
	Code             errcatalog.Code
	Message          string
	Users            []ResourceUser
	NotifyRecipients []string
	AllUsers         *AllUsersSnapshot
}

// LeaveResult is the outcome of a Leave call. Callers must reply to the
// leaving socket, then (only if Success) broadcast USER_LEFT with
// reason="manual" to NotifyRecipients.
type LeaveResult struct {
	Success          bool
	Code             errcatalog.Code
	Message          string
	NotifyRecipients []string
}

// RoomLeaveNotice is one room's departure notice produced by OnDisconnect.
type RoomLeaveNotice struct {
	ResourceID string
	Recipients []string
}

// DisconnectResult is the outcome of OnDisconnect: every room the socket was
// a member of, and the recipients to notify with reason="disconnect" in
// each. ResourceIDs lists the resourceIds of those rooms, sorted.
type DisconnectResult struct {
	RoomsLeft   []RoomLeaveNotice
	ResourceIDs []string
}

// RoomLimitFunc returns the configured occupancy cap for a resource type.
// A return of 0 or less means "no cap".
type RoomLimitFunc func(resourceType string) int

// Engine is the presence/room registry. A single mutex protects both
// indices; mutation methods release it before returning so every caller
// broadcasts outside the critical section.
type Engine struct {
	mu        sync.Mutex
	rooms     map[string]map[string]ResourceUser // resourceId -> socketId -> ResourceUser
	bySocket  map[string]map[string]struct{}      // socketId -> set of resourceIds joined
	roomLimit RoomLimitFunc
	now       func() time.Time
}

// New builds an empty Engine. roomLimit is consulted on every Join.
func New(roomLimit RoomLimitFunc) *Engine {
	return &Engine{
		rooms:     make(map[string]map[string]ResourceUser),
		bySocket:  make(map[string]map[string]struct{}),
		roomLimit: roomLimit,
		now:       time.Now,
	}
}

func snapshotUsers(room map[string]ResourceUser) []ResourceUser {
	out := make([]ResourceUser, 0, len(room))
	for _, u := range room {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].SocketID < out[j].SocketID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// buildAllUsersSnapshotLocked must be called while e.mu is held.
func (e *Engine) buildAllUsersSnapshotLocked(parsed resourceid.ID) *AllUsersSnapshot {
	parentID := parsed.ParentID()
	var subResources []SubResourceUsers
	total := 0
	for rid, room := range e.rooms {
		p, err := resourceid.Parse(rid)
		if err != nil || !p.IsSubResource() || p.ParentID() != parentID {
			continue
		}
		users := snapshotUsers(room)
		subResources = append(subResources, SubResourceUsers{SubResourceID: rid, Users: users})
		total += len(users)
	}
	sort.Slice(subResources, func(i, j int) bool {
		return subResources[i].SubResourceID < subResources[j].SubResourceID
	})
	return &AllUsersSnapshot{
		ParentResourceID:     parentID,
		CurrentSubResourceID: parsed.String(),
		SubResources:         subResources,
		TotalCount:           total,
	}
}

// Join adds socketID to resourceIDStr's room under userID/username/email,
// with the given Mode. See JoinResult for the caller's delivery obligations.
func (e *Engine) Join(resourceIDStr, socketID, userID, username, email string, mode Mode) JoinResult {
	if !validMode(mode) {
		return JoinResult{Success: false, Code: errcatalog.CodeInvalidMode, Message: "mode must be editor or viewer"}
	}

	parsed, err := resourceid.Parse(resourceIDStr)
	if err != nil {
		return JoinResult{Success: false, Code: errcatalog.CodeInvalidResourceType, Message: "invalid resource id"}
	}

	e.mu.Lock()

	room := e.rooms[resourceIDStr]
	if room == nil {
		room = make(map[string]ResourceUser)
	}

	if _, exists := room[socketID]; exists {
		users := snapshotUsers(room)
		e.mu.Unlock()
		return JoinResult{Success: false, Code: errcatalog.CodeResourceAlreadyJoined, Message: "already joined", Users: users}
	}

	if limit := e.roomLimit(parsed.Type); limit > 0 && len(room) >= limit {
		users := snapshotUsers(room)
		e.mu.Unlock()
		return JoinResult{Success: false, Code: errcatalog.CodeRoomFull, Message: "room full", Users: users}
	}

	now := e.now()
	var recipients []string
	for sid := range room {
		recipients = append(recipients, sid)
	}

	room[socketID] = ResourceUser{
		UserID: userID, Username: username, Email: email, SocketID: socketID,
		JoinedAt: now, Mode: mode, LastActivityAt: now,
	}
	e.rooms[resourceIDStr] = room

	if e.bySocket[socketID] == nil {
		e.bySocket[socketID] = make(map[string]struct{})
	}
	e.bySocket[socketID][resourceIDStr] = struct{}{}

	users := snapshotUsers(room)

	var allUsers *AllUsersSnapshot
	if parsed.IsSubResource() {
		allUsers = e.buildAllUsersSnapshotLocked(parsed)
	}

	e.mu.Unlock()

	return JoinResult{Success: true, Users: users, NotifyRecipients: recipients, AllUsers: allUsers}
}

// Leave removes socketID from resourceIDStr's room. See LeaveResult.
func (e *Engine) Leave(resourceIDStr, socketID string) LeaveResult {
	e.mu.Lock()

	room, ok := e.rooms[resourceIDStr]
	if !ok {
		e.mu.Unlock()
		return LeaveResult{Success: false, Code: errcatalog.CodeResourceNotJoined, Message: "not in this resource"}
	}
	if _, exists := room[socketID]; !exists {
		e.mu.Unlock()
		return LeaveResult{Success: false, Code: errcatalog.CodeResourceNotJoined, Message: "not in this resource"}
	}

	delete(room, socketID)
	if set := e.bySocket[socketID]; set != nil {
		delete(set, resourceIDStr)
		if len(set) == 0 {
			delete(e.bySocket, socketID)
		}
	}

	recipients := make([]string, 0, len(room))
	for sid := range room {
		recipients = append(recipients, sid)
	}
	if len(room) == 0 {
		delete(e.rooms, resourceIDStr)
	}

	e.mu.Unlock()
	return LeaveResult{Success: true, NotifyRecipients: recipients}
}

// OnDisconnect removes socketID from every room it belonged to, returning
// one RoomLeaveNotice per room so the caller can broadcast USER_LEFT with
// reason="disconnect" to each, and the sorted list of resourceIds the socket
// left.
func (e *Engine) OnDisconnect(socketID string) DisconnectResult {
	e.mu.Lock()

	resourceIDs := make([]string, 0, len(e.bySocket[socketID]))
	for rid := range e.bySocket[socketID] {
		resourceIDs = append(resourceIDs, rid)
	}
	sort.Strings(resourceIDs)
	delete(e.bySocket, socketID)

	notices := make([]RoomLeaveNotice, 0, len(resourceIDs))
	for _, rid := range resourceIDs {
		room := e.rooms[rid]
		delete(room, socketID)
		recipients := make([]string, 0, len(room))
		for sid := range room {
			recipients = append(recipients, sid)
		}
		if len(room) == 0 {
			delete(e.rooms, rid)
		}
		notices = append(notices, RoomLeaveNotice{ResourceID: rid, Recipients: recipients})
	}

	e.mu.Unlock()
	return DisconnectResult{RoomsLeft: notices, ResourceIDs: resourceIDs}
}

// RoomSize returns the current occupancy of resourceIDStr, for tests and
// stats; 0 if the room does not exist.
func (e *Engine) RoomSize(resourceIDStr string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms[resourceIDStr])
}

// RoomCount returns the number of non-empty rooms currently tracked.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

// Occupants returns the socketIds currently present in resourceIDStr's room,
// used by the gateway to fan out lock events to whoever is watching that
// resource (lock holders are not necessarily room members, but observers
// are drawn from presence since the lock engine has no subscriber list of
// its own).
func (e *Engine) Occupants(resourceIDStr string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	room := e.rooms[resourceIDStr]
	out := make([]string, 0, len(room))
	for sid := range room {
		out = append(out, sid)
	}
	return out
}

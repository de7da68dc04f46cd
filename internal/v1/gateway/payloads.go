package gateway

import (
	"github.com/collabgateway/gateway/internal/v1/presence"
)

// ConnectedPayload is sent once after a session is registered.
type ConnectedPayload struct {
	SocketID  string `json:"socketId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// ServerShutdownPayload announces the start of a graceful shutdown.
type ServerShutdownPayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectErrorPayload is the wire shape of a CONNECT_ERROR payload. No code
// path sends it: an auth or cap failure is rejected before the upgrade by
// rejectHandshake, which writes an errcatalog.Error JSON body with an HTTP
// status, and no CONNECT_ERROR frame is sent after an upgrade.
type ConnectErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ResourceJoinRequest is the inbound resource:join payload.
type ResourceJoinRequest struct {
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	Mode         string `json:"mode"`
}

// UserDTO is the wire shape of a resource occupant.
type UserDTO struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	SocketID string `json:"socketId"`
	JoinedAt int64  `json:"joinedAt"`
	Mode     string `json:"mode"`
}

func toUserDTO(u presence.ResourceUser) UserDTO {
	return UserDTO{
		UserID:   u.UserID,
		Username: u.Username,
		Email:    u.Email,
		SocketID: u.SocketID,
		JoinedAt: u.JoinedAt.UnixMilli(),
		Mode:     string(u.Mode),
	}
}

func toUserDTOs(users []presence.ResourceUser) []UserDTO {
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out
}

// ResourceJoinedPayload replies to the joining connection.
type ResourceJoinedPayload struct {
	ResourceID string    `json:"resourceId"`
	UserID     string    `json:"userId"`
	Success    bool      `json:"success"`
	JoinedAt   int64     `json:"joinedAt,omitempty"`
	Users      []UserDTO `json:"users"`
	Message    string    `json:"message,omitempty"`
}

// ResourceLeaveRequest is the inbound resource:leave payload.
type ResourceLeaveRequest struct {
	ResourceID string `json:"resourceId"`
}

// ResourceLeftPayload replies to the leaving connection.
type ResourceLeftPayload struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

// UserJoinedPayload is broadcast to the rest of a room when someone joins.
type UserJoinedPayload struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	SocketID   string `json:"socketId"`
	JoinedAt   int64  `json:"joinedAt"`
	Mode       string `json:"mode"`
}

// UserLeftPayload is broadcast to the rest of a room when someone leaves.
type UserLeftPayload struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	Reason     string `json:"reason"`
}

// SubResourceUsersDTO is one sub-resource's occupant listing.
type SubResourceUsersDTO struct {
	SubResourceID string    `json:"subResourceId"`
	Users         []UserDTO `json:"users"`
}

// ResourceAllUsersPayload is the cross-tab presence snapshot sent only to a
// sub-resource joiner.
type ResourceAllUsersPayload struct {
	ParentResourceID     string                `json:"parentResourceId"`
	CurrentSubResourceID string                `json:"currentSubResourceId"`
	SubResources         []SubResourceUsersDTO `json:"subResources"`
	TotalCount           int                   `json:"totalCount"`
}

func toAllUsersPayload(s presence.AllUsersSnapshot) ResourceAllUsersPayload {
	subs := make([]SubResourceUsersDTO, len(s.SubResources))
	for i, sr := range s.SubResources {
		subs[i] = SubResourceUsersDTO{SubResourceID: sr.SubResourceID, Users: toUserDTOs(sr.Users)}
	}
	return ResourceAllUsersPayload{
		ParentResourceID:     s.ParentResourceID,
		CurrentSubResourceID: s.CurrentSubResourceID,
		SubResources:         subs,
		TotalCount:           s.TotalCount,
	}
}

// LockRequest is the inbound payload for lock:acquire, lock:release, and
// lock:renew. TTLMs is only consulted by acquire/renew; zero means "use the
// configured default".
type LockRequest struct {
	ResourceID string `json:"resourceId"`
	TTLMs      int64  `json:"ttlMs,omitempty"`
}

// LockEventPayload is broadcast on LOCK_ACQUIRED/LOCK_RELEASED to every
// occupant of the locked resource's room.
type LockEventPayload struct {
	ResourceID string `json:"resourceId"`
	UserID     string `json:"userId"`
	AcquiredAt int64  `json:"acquiredAt,omitempty"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
}

// LockHolderPayload replies to an inbound lock:getHolder, to the requester
// only. Held is false when no lock currently exists on the resource.
type LockHolderPayload struct {
	ResourceID string `json:"resourceId"`
	Held       bool   `json:"held"`
	UserID     string `json:"userId,omitempty"`
	AcquiredAt int64  `json:"acquiredAt,omitempty"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
}

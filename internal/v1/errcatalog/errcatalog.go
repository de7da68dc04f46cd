// Package errcatalog declares the stable, machine-readable error codes
// surfaced to clients and wraps them in a JSON-serializable envelope.
package errcatalog

import (
	"fmt"
	"time"
)

// Code is a stable, machine-readable error identifier.
type Code string

// Connection errors (1xxx).
const (
	CodeMaxConnectionsExceeded Code = "MAX_CONNECTIONS_EXCEEDED"
	CodeConnectionTimeout      Code = "CONNECTION_TIMEOUT"
	CodeTransportError         Code = "TRANSPORT_ERROR"
)

// Auth errors (2xxx).
const (
	CodeJWTMissing   Code = "JWT_MISSING"
	CodeJWTInvalid   Code = "JWT_INVALID"
	CodeJWTExpired   Code = "JWT_EXPIRED"
	CodeUnauthorized Code = "UNAUTHORIZED"
)

// Validation errors (3xxx).
const (
	CodeInvalidPayload       Code = "INVALID_PAYLOAD"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidResourceType  Code = "INVALID_RESOURCE_TYPE"
	CodeInvalidRoomName      Code = "INVALID_ROOM_NAME"
	CodeInvalidMode          Code = "INVALID_MODE"
)

// Business errors (4xxx).
const (
	CodeRoomFull              Code = "ROOM_FULL"
	CodeRoomNotFound          Code = "ROOM_NOT_FOUND"
	CodeResourceAlreadyJoined Code = "RESOURCE_ALREADY_JOINED"
	CodeResourceNotJoined     Code = "RESOURCE_NOT_JOINED"
	CodeLockConflict          Code = "LOCK_CONFLICT"
	CodeLockNotOwned          Code = "LOCK_NOT_OWNED"
	CodeLockNotHeld           Code = "LOCK_NOT_HELD"
	CodeLockAcquireFailed     Code = "LOCK_ACQUIRE_FAILED"
	CodeLockReleaseFailed     Code = "LOCK_RELEASE_FAILED"
	CodeLockExtendFailed      Code = "LOCK_EXTEND_FAILED"
	CodeConnectionNotFound    Code = "CONNECTION_NOT_FOUND"
)

// Server errors (5xxx).
const (
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
)

// kindByCode groups codes into their human-readable "type" bucket, used in
// the standard error envelope's `type` field.
var kindByCode = map[Code]string{
	CodeMaxConnectionsExceeded: "connection",
	CodeConnectionTimeout:      "connection",
	CodeTransportError:         "connection",

	CodeJWTMissing:   "auth",
	CodeJWTInvalid:   "auth",
	CodeJWTExpired:   "auth",
	CodeUnauthorized: "auth",

	CodeInvalidPayload:       "validation",
	CodeMissingRequiredField: "validation",
	CodeInvalidResourceType:  "validation",
	CodeInvalidRoomName:      "validation",
	CodeInvalidMode:          "validation",

	CodeRoomFull:              "business",
	CodeRoomNotFound:          "business",
	CodeResourceAlreadyJoined: "business",
	CodeResourceNotJoined:     "business",
	CodeLockConflict:          "business",
	CodeLockNotOwned:          "business",
	CodeLockNotHeld:           "business",
	CodeLockAcquireFailed:     "business",
	CodeLockReleaseFailed:     "business",
	CodeLockExtendFailed:      "business",
	CodeConnectionNotFound:    "business",

	CodeInternalServerError: "server",
	CodeServiceUnavailable:  "server",
	CodeRateLimitExceeded:   "server",
}

// Error is the standard error envelope. It implements the error interface so
// it can be returned and wrapped like any other Go error, and also carries
// the fields that get marshaled verbatim into an outbound error frame.
type Error struct {
	Code      Code           `json:"code"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a standard error envelope for the given code. Messages must be
// generic: no stack traces, no token fragments, no internal identifiers
// beyond what the client already knows.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Type:      kindByCode[code],
		Message:   message,
		Timestamp: nowMillis(),
	}
}

// WithDetails attaches non-sensitive structured context to the envelope.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

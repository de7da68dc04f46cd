package errcatalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SetsKindAndTimestamp(t *testing.T) {
	e := New(CodeRoomFull, "resource is at capacity")

	assert.Equal(t, CodeRoomFull, e.Code)
	assert.Equal(t, "business", e.Type)
	assert.Equal(t, "resource is at capacity", e.Message)
	assert.Positive(t, e.Timestamp)
	assert.Nil(t, e.Details)
}

func TestWithDetails_Attaches(t *testing.T) {
	e := New(CodeInvalidPayload, "bad frame").WithDetails(map[string]any{"field": "resourceId"})

	require.NotNil(t, e.Details)
	assert.Equal(t, "resourceId", e.Details["field"])
}

func TestError_ImplementsErrorInterface(t *testing.T) {
	var err error = New(CodeJWTInvalid, "token expired")
	assert.Equal(t, "JWT_INVALID: token expired", err.Error())

	var target *Error
	assert.True(t, errors.As(err, &target))
}

func TestKindByCode_EveryCodeIsClassified(t *testing.T) {
	codes := []Code{
		CodeMaxConnectionsExceeded, CodeConnectionTimeout, CodeTransportError,
		CodeJWTMissing, CodeJWTInvalid, CodeJWTExpired, CodeUnauthorized,
		CodeInvalidPayload, CodeMissingRequiredField, CodeInvalidResourceType, CodeInvalidRoomName, CodeInvalidMode,
		CodeRoomFull, CodeRoomNotFound, CodeResourceAlreadyJoined, CodeResourceNotJoined,
		CodeLockConflict, CodeLockNotOwned, CodeLockNotHeld, CodeLockAcquireFailed, CodeLockReleaseFailed, CodeLockExtendFailed,
		CodeConnectionNotFound,
		CodeInternalServerError, CodeServiceUnavailable, CodeRateLimitExceeded,
	}
	for _, c := range codes {
		assert.NotEmpty(t, New(c, "x").Type, "code %q has no kind classification", c)
	}
}

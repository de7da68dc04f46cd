package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_KnownEvent(t *testing.T) {
	route, ok := Lookup(NameUserJoined)
	require.True(t, ok)
	assert.Equal(t, ScopeRoom, route.Scope)
	require.NotNil(t, route.Retry)
	assert.Equal(t, 3, route.Retry.MaxRetries)
}

func TestLookup_UnknownEvent(t *testing.T) {
	_, ok := Lookup(Name("not:a:real:event"))
	assert.False(t, ok)
}

func TestLookup_ReplyOnlyEventsHaveNoRetry(t *testing.T) {
	for _, name := range []Name{NameConnected, NameConnectError, NameResourceJoined, NameResourceLeft, NameLockHolder, NameError} {
		route, ok := Lookup(name)
		require.True(t, ok, "expected %q to be routed", name)
		assert.Equal(t, ScopeUser, route.Scope)
		assert.Nil(t, route.Retry)
	}
}

func TestLookup_InboundEventsAreNotInTable(t *testing.T) {
	for _, name := range []Name{NameResourceJoin, NameResourceLeave, NameLockAcquire, NameLockRelease, NameLockRenew, NameLockGetHolder} {
		_, ok := Lookup(name)
		assert.False(t, ok, "%q is an inbound-only event and should have no outbound route", name)
	}
}

func TestServerShutdown_IsGlobal(t *testing.T) {
	route, ok := Lookup(NameServerShutdown)
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, route.Scope)
}

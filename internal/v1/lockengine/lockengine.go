// Package lockengine implements ownership semantics for exclusive,
// TTL-bounded resource locks on top of internal/v1/lockstore.
//
// The stored value is a canonical JSON envelope, the same
// small-envelope-through-an-external-store convention internal/v1/bus uses
// for PubSubPayload, applied to a lock-holder record instead of a pub/sub
// message.
package lockengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabgateway/gateway/internal/v1/lockstore"
)

// DefaultTTL is used by Acquire when the caller does not specify one.
const DefaultTTL = 5 * time.Minute

// keyPrefix forms the lock key schema: lock:<resourceId>.
const keyPrefix = "lock:"

func key(resourceID string) string {
	return keyPrefix + resourceID
}

// Holder is the parsed value of a lock: who holds it and its timing.
type Holder struct {
	UserID     string `json:"userId"`
	AcquiredAt int64  `json:"acquiredAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Engine provides acquire/release/renew/inspect semantics over a Store.
type Engine struct {
	store lockstore.Store
	now   func() time.Time
}

// New builds an Engine backed by store.
func New(store lockstore.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func decode(raw []byte) (Holder, bool) {
	var h Holder
	if err := json.Unmarshal(raw, &h); err != nil {
		return Holder{}, false
	}
	if h.UserID == "" {
		return Holder{}, false
	}
	return h, true
}

func encode(h Holder) []byte {
	// Marshal of a fixed, always-valid struct never fails.
	data, _ := json.Marshal(h)
	return data
}

// Acquire implements the three-step acquire:
//  1. existing + same owner -> refresh (preserve acquiredAt, bump expiresAt)
//  2. existing + different owner -> false
//  3. absent or unparseable -> delete-if-corrupted then atomic putIfAbsent
func (e *Engine) Acquire(ctx context.Context, resourceID, userID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key(resourceID)
	now := e.nowMillis()

	raw, present := e.store.Get(ctx, k)
	if present {
		holder, ok := decode(raw)
		if ok {
			if holder.UserID == userID {
				refreshed := Holder{UserID: userID, AcquiredAt: holder.AcquiredAt, ExpiresAt: now + ttl.Milliseconds()}
				return e.store.Set(ctx, k, encode(refreshed), ttl)
			}
			return false
		}
		// Present but unparseable: treat as absent, clear the corrupted key
		// first so the putIfAbsent below has a fair shot.
		e.store.Delete(ctx, k)
	}

	candidate := Holder{UserID: userID, AcquiredAt: now, ExpiresAt: now + ttl.Milliseconds()}
	return e.store.PutIfAbsent(ctx, k, encode(candidate), ttl)
}

// Release deletes the lock iff it is currently held by userID. Idempotent:
// a second call on an already-released lock returns false.
func (e *Engine) Release(ctx context.Context, resourceID, userID string) bool {
	k := key(resourceID)
	raw, present := e.store.Get(ctx, k)
	if !present {
		return false
	}
	holder, ok := decode(raw)
	if !ok || holder.UserID != userID {
		return false
	}
	return e.store.Delete(ctx, k)
}

// Renew extends the lock's TTL iff it is currently held by userID,
// preserving acquiredAt.
func (e *Engine) Renew(ctx context.Context, resourceID, userID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key(resourceID)
	raw, present := e.store.Get(ctx, k)
	if !present {
		return false
	}
	holder, ok := decode(raw)
	if !ok || holder.UserID != userID {
		return false
	}
	holder.ExpiresAt = e.nowMillis() + ttl.Milliseconds()
	return e.store.Set(ctx, k, encode(holder), ttl)
}

// GetHolder is a read-only lookup of the current lock holder, if any.
func (e *Engine) GetHolder(ctx context.Context, resourceID string) (Holder, bool) {
	raw, present := e.store.Get(ctx, key(resourceID))
	if !present {
		return Holder{}, false
	}
	return decode(raw)
}

// ReleaseAllForUser attempts to release every lock userID holds among
// resourceIDs, returning the count of locks actually released. Used by the
// gateway's disconnect cleanup with the client's held-lock set: failures per
// resource are not fatal to the overall sweep.
func (e *Engine) ReleaseAllForUser(ctx context.Context, userID string, resourceIDs []string) int {
	released := 0
	for _, r := range resourceIDs {
		if e.Release(ctx, r, userID) {
			released++
		}
	}
	return released
}

func (h Holder) String() string {
	return fmt.Sprintf("Holder{userId=%s, acquiredAt=%d, expiresAt=%d}", h.UserID, h.AcquiredAt, h.ExpiresAt)
}

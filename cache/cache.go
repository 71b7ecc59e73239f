// cache/cache.go
package cache

import (
	"context"
	"fmt"
	"time"
)

// Entry is a resolved effective permission set together with the moment it
// was computed. An entry older than the cache TTL is equivalent to absent
// and must never be served.
type Entry struct {
	Permissions []string  `json:"permissions"`
	ComputedAt  time.Time `json:"computed_at"`
}

// PermissionCache memoizes resolved permission sets per identity. The
// in-memory implementation suits single-instance deployments; the Redis
// implementation makes the cache safe across instances.
type PermissionCache interface {
	Get(ctx context.Context, identityID string) (Entry, bool, error)
	Set(ctx context.Context, identityID string, entry Entry) error
	Delete(ctx context.Context, identityID string) error
	Clear(ctx context.Context) error
}

// OwnershipKey identifies one cached ownership verdict. It is keyed by the
// fetched resource, not just the identity, so it lives in its own cache.
type OwnershipKey struct {
	ResourceType string
	ResourceID   string
	IdentityID   string
}

func (k OwnershipKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ResourceType, k.ResourceID, k.IdentityID)
}

// OwnershipCache memoizes ownership-check results.
type OwnershipCache interface {
	Get(ctx context.Context, key OwnershipKey) (isOwner bool, ok bool, err error)
	Set(ctx context.Context, key OwnershipKey, isOwner bool) error
}

// FailureCounter tracks consecutive authorization failures per key inside
// a rolling window. Implementations must make Fail an atomic
// increment-with-window so concurrent failures cannot under-count a lockout.
type FailureCounter interface {
	// Fail records one failed attempt and returns the count accumulated
	// within the current window.
	Fail(ctx context.Context, key string, window time.Duration) (int64, error)
	// Count returns the number of failures in the current window, zero if
	// the window has elapsed.
	Count(ctx context.Context, key string) (int64, error)
	// Reset clears the counter on a successful authorization.
	Reset(ctx context.Context, key string) error
}

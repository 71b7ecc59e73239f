package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-authz/aegis/cache"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/resolver"
	"github.com/aegis-authz/aegis/util"
)

type fakeIdentityStore struct {
	identities map[string]model.Identity
}

func (s *fakeIdentityStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	identity, ok := s.identities[id]
	if !ok {
		return nil, errors.New("identity not found")
	}
	return &identity, nil
}

type fakeRoleStore struct {
	roles map[string]model.Role
}

func (s *fakeRoleStore) GetRole(ctx context.Context, name string) (*model.Role, error) {
	role, ok := s.roles[name]
	if !ok {
		return nil, errors.New("role not found")
	}
	return &role, nil
}

// failingCache errors on every lookup, as a Redis outage would.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, cache.Entry) error {
	return errors.New("connection refused")
}

func (failingCache) Delete(context.Context, string) error { return errors.New("connection refused") }
func (failingCache) Clear(context.Context) error          { return errors.New("connection refused") }

func newTestResolver(identities map[string]model.Identity, roles map[string]model.Role) (*resolver.PermissionResolver, *fakeRoleStore) {
	roleStore := &fakeRoleStore{roles: roles}
	r := resolver.NewPermissionResolver(
		&fakeIdentityStore{identities: identities},
		roleStore,
		cache.NewMemoryPermissionCache(5*time.Minute),
		nil,
	)
	return r, roleStore
}

func TestResolve_EffectiveSet(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestResolver(
		map[string]model.Identity{
			"u1": {
				ID:   "u1",
				Role: "editor",
				CustomPermissions: model.CustomPermissions{
					Granted: []string{"reports.export", "documents.update"},
					Denied:  []string{"documents.delete", "reports.export"},
				},
			},
		},
		map[string]model.Role{
			"editor": {
				Name:        "editor",
				Permissions: []string{"documents.read", "documents.update", "documents.delete"},
				IsActive:    true,
			},
		},
	)

	permissions := r.Resolve(ctx, "u1")

	assert.ElementsMatch(t, []string{"documents.read", "documents.update"}, permissions)
	// Denied overrides both the role list and an explicit grant.
	assert.NotContains(t, permissions, "documents.delete")
	assert.NotContains(t, permissions, "reports.export")
}

func TestResolve_FailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity", func(t *testing.T) {
		r, _ := newTestResolver(nil, nil)
		assert.Empty(t, r.Resolve(ctx, "ghost"))
	})

	t.Run("unknown role", func(t *testing.T) {
		r, _ := newTestResolver(
			map[string]model.Identity{"u1": {ID: "u1", Role: "missing"}},
			nil,
		)
		assert.Empty(t, r.Resolve(ctx, "u1"))
	})

	t.Run("cache lookup failure", func(t *testing.T) {
		// Even with valid stores behind it, a broken cache resolves to
		// the empty set — never a recompute, never an over-grant.
		r := resolver.NewPermissionResolver(
			&fakeIdentityStore{identities: map[string]model.Identity{"u1": {ID: "u1", Role: "viewer"}}},
			&fakeRoleStore{roles: map[string]model.Role{"viewer": {
				Name:        "viewer",
				Permissions: []string{"customers.read"},
				IsActive:    true,
			}}},
			failingCache{},
			nil,
		)
		assert.Empty(t, r.Resolve(ctx, "u1"))
		assert.False(t, r.HasPermission(ctx, "u1", "customers.read"))
	})

	t.Run("inactive role", func(t *testing.T) {
		r, _ := newTestResolver(
			map[string]model.Identity{"u1": {ID: "u1", Role: "dormant"}},
			map[string]model.Role{"dormant": {
				Name:        "dormant",
				Permissions: []string{"customers.read"},
				IsActive:    false,
			}},
		)
		assert.Empty(t, r.Resolve(ctx, "u1"))
	})
}

func TestResolve_CacheStaleness(t *testing.T) {
	ctx := context.Background()
	r, roleStore := newTestResolver(
		map[string]model.Identity{"u1": {ID: "u1", Role: "viewer"}},
		map[string]model.Role{"viewer": {
			Name:        "viewer",
			Permissions: []string{"customers.read"},
			IsActive:    true,
		}},
	)

	first := r.Resolve(ctx, "u1")
	require.Equal(t, []string{"customers.read"}, first)

	// The underlying role changes, but within the TTL the cached result is
	// served unchanged. Staleness here is a required behavior.
	roleStore.roles["viewer"] = model.Role{
		Name:        "viewer",
		Permissions: []string{"customers.read", "customers.delete"},
		IsActive:    true,
	}
	second := r.Resolve(ctx, "u1")
	assert.Equal(t, first, second)

	// An explicit invalidation picks up the new data.
	r.Invalidate(ctx, "u1")
	third := r.Resolve(ctx, "u1")
	assert.ElementsMatch(t, []string{"customers.read", "customers.delete"}, third)
}

func TestResolve_HasPermission(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestResolver(
		map[string]model.Identity{"u1": {ID: "u1", Role: "viewer"}},
		map[string]model.Role{"viewer": {
			Name:        "viewer",
			Permissions: []string{"customers.read"},
			IsActive:    true,
		}},
	)

	assert.True(t, r.HasPermission(ctx, "u1", "customers.read"))
	assert.False(t, r.HasPermission(ctx, "u1", "customers.delete"))
	assert.False(t, r.HasPermission(ctx, "ghost", "customers.read"))
}

func TestResolver_EventBusInvalidation(t *testing.T) {
	ctx := context.Background()
	eventBus := util.NewEventBus()

	roleStore := &fakeRoleStore{roles: map[string]model.Role{"viewer": {
		Name:        "viewer",
		Permissions: []string{"customers.read"},
		IsActive:    true,
	}}}
	r := resolver.NewPermissionResolver(
		&fakeIdentityStore{identities: map[string]model.Identity{"u1": {ID: "u1", Role: "viewer"}}},
		roleStore,
		cache.NewMemoryPermissionCache(5*time.Minute),
		eventBus,
	)

	require.Equal(t, []string{"customers.read"}, r.Resolve(ctx, "u1"))

	roleStore.roles["viewer"] = model.Role{
		Name:        "viewer",
		Permissions: []string{"customers.read", "reports.read"},
		IsActive:    true,
	}
	eventBus.Publish(ctx, resolver.EventRoleUpdated, "viewer")

	// Handlers run asynchronously.
	assert.Eventually(t, func() bool {
		return len(r.Resolve(ctx, "u1")) == 2
	}, time.Second, 10*time.Millisecond)
}

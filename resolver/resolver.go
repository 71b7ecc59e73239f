// resolver/resolver.go
package resolver

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-authz/aegis/cache"
	logger "github.com/aegis-authz/aegis/logging"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/util"
)

// Events that collaborators publish when role or permission data mutates.
// The resolver subscribes to these and invalidates accordingly.
const (
	EventRoleUpdated        = "role.updated"
	EventRoleDeleted        = "role.deleted"
	EventPermissionsUpdated = "identity.permissions.updated"
)

// IdentityStore loads identities. Implemented by the excluded
// authentication/persistence layer.
type IdentityStore interface {
	GetIdentity(ctx context.Context, identityID string) (*model.Identity, error)
}

// RoleStore loads role records by name.
type RoleStore interface {
	GetRole(ctx context.Context, name string) (*model.Role, error)
}

// IPermissionResolver defines the interface for permission resolution
type IPermissionResolver interface {
	Resolve(ctx context.Context, identityID string) []string
	HasPermission(ctx context.Context, identityID, permission string) bool
	Invalidate(ctx context.Context, identityID string)
	InvalidateAll(ctx context.Context)
}

// PermissionResolver computes an identity's effective permission set and
// memoizes it in the permission cache. Every ambiguous or failing lookup
// resolves to the empty set, never to an error.
type PermissionResolver struct {
	identities IdentityStore
	roles      RoleStore
	permCache  cache.PermissionCache

	now func() time.Time
}

var _ IPermissionResolver = &PermissionResolver{}

// NewPermissionResolver creates a new instance of PermissionResolver. When
// an event bus is supplied the resolver subscribes to mutation events so
// collaborators can publish instead of calling Invalidate directly.
func NewPermissionResolver(identities IdentityStore, roles RoleStore, permCache cache.PermissionCache, eventBus *util.EventBus) *PermissionResolver {
	r := &PermissionResolver{
		identities: identities,
		roles:      roles,
		permCache:  permCache,
		now:        time.Now,
	}

	if eventBus != nil {
		eventBus.Subscribe(EventRoleUpdated, r.handleRoleChanged)
		eventBus.Subscribe(EventRoleDeleted, r.handleRoleChanged)
		eventBus.Subscribe(EventPermissionsUpdated, r.handlePermissionsUpdated)
	}

	return r
}

// Resolve returns the identity's effective permission set:
// (role permissions ∪ custom granted) minus custom denied. The result is
// sorted so repeated resolutions are byte-identical. Missing identities,
// missing or inactive roles, and cache failures all yield the empty set.
func (r *PermissionResolver) Resolve(ctx context.Context, identityID string) []string {
	entry, ok, err := r.permCache.Get(ctx, identityID)
	if err != nil {
		// A failing cache lookup is fail-closed, same as a missing
		// identity or role.
		logger.Warn("Permission cache lookup failed, resolving to empty permission set",
			zap.Error(err), zap.String("identityID", identityID))
		return []string{}
	}
	if ok {
		return entry.Permissions
	}

	identity, err := r.identities.GetIdentity(ctx, identityID)
	if err != nil || identity == nil {
		logger.Warn("Identity not found during permission resolution",
			zap.Error(err), zap.String("identityID", identityID))
		return []string{}
	}

	role, err := r.roles.GetRole(ctx, identity.Role)
	if err != nil || role == nil {
		logger.Warn("Role not found during permission resolution",
			zap.Error(err),
			zap.String("identityID", identityID),
			zap.String("role", identity.Role))
		return []string{}
	}
	if !role.IsActive {
		logger.Warn("Role is inactive, resolving to empty permission set",
			zap.String("identityID", identityID),
			zap.String("role", role.Name))
		return []string{}
	}

	permissions := effectiveSet(role.Permissions, identity.CustomPermissions)

	if err := r.permCache.Set(ctx, identityID, cache.Entry{
		Permissions: permissions,
		ComputedAt:  r.now(),
	}); err != nil {
		logger.Warn("Failed to cache resolved permissions",
			zap.Error(err), zap.String("identityID", identityID))
	}

	return permissions
}

// HasPermission reports whether the identity's effective set contains the
// given permission name.
func (r *PermissionResolver) HasPermission(ctx context.Context, identityID, permission string) bool {
	for _, p := range r.Resolve(ctx, identityID) {
		if p == permission {
			return true
		}
	}
	return false
}

// Invalidate drops the cached permission set for one identity. Any
// collaborator mutating role or permission data must call this (or publish
// the matching event).
func (r *PermissionResolver) Invalidate(ctx context.Context, identityID string) {
	if err := r.permCache.Delete(ctx, identityID); err != nil {
		logger.Warn("Failed to invalidate cached permissions",
			zap.Error(err), zap.String("identityID", identityID))
	}
}

// InvalidateAll clears the whole permission cache. Role-level mutations
// affect an unknown set of identities, so everything goes.
func (r *PermissionResolver) InvalidateAll(ctx context.Context) {
	if err := r.permCache.Clear(ctx); err != nil {
		logger.Warn("Failed to clear permission cache", zap.Error(err))
	}
}

func (r *PermissionResolver) handleRoleChanged(ctx context.Context, event util.Event) error {
	logger.Info("Role mutation event received, clearing permission cache",
		zap.String("eventType", event.Type))
	r.InvalidateAll(ctx)
	return nil
}

func (r *PermissionResolver) handlePermissionsUpdated(ctx context.Context, event util.Event) error {
	identityID, ok := event.Payload.(string)
	if !ok {
		logger.Warn("Unexpected payload for permissions update event",
			zap.Any("payload", event.Payload))
		r.InvalidateAll(ctx)
		return nil
	}
	r.Invalidate(ctx, identityID)
	return nil
}

// effectiveSet applies the override invariant: denied wins over granted and
// over the role's own list.
func effectiveSet(rolePermissions []string, custom model.CustomPermissions) []string {
	denied := make(map[string]struct{}, len(custom.Denied))
	for _, p := range custom.Denied {
		denied[p] = struct{}{}
	}

	set := make(map[string]struct{}, len(rolePermissions)+len(custom.Granted))
	for _, p := range rolePermissions {
		if _, blocked := denied[p]; !blocked {
			set[p] = struct{}{}
		}
	}
	for _, p := range custom.Granted {
		if _, blocked := denied[p]; !blocked {
			set[p] = struct{}{}
		}
	}

	permissions := make([]string, 0, len(set))
	for p := range set {
		permissions = append(permissions, p)
	}
	sort.Strings(permissions)
	return permissions
}

// store/memory.go
package store

import (
	"context"
	"fmt"
	"sync"

	aegis_errors "github.com/aegis-authz/aegis/errors"
	"github.com/aegis-authz/aegis/model"
)

// MemoryIdentityStore is an in-memory IdentityStore for demos and tests.
// Production deployments implement the store interfaces over their own
// persistence.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{identities: make(map[string]model.Identity)}
}

func (s *MemoryIdentityStore) PutIdentity(identity model.Identity) {
	s.mu.Lock()
	s.identities[identity.ID] = identity
	s.mu.Unlock()
}

func (s *MemoryIdentityStore) GetIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	s.mu.RLock()
	identity, ok := s.identities[identityID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", aegis_errors.ErrIdentityNotFound, identityID)
	}
	return &identity, nil
}

// MemoryRoleStore is an in-memory RoleStore.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]model.Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]model.Role)}
}

func (s *MemoryRoleStore) PutRole(role model.Role) {
	s.mu.Lock()
	s.roles[role.Name] = role
	s.mu.Unlock()
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, name string) (*model.Role, error) {
	s.mu.RLock()
	role, ok := s.roles[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", aegis_errors.ErrRoleNotFound, name)
	}
	return &role, nil
}

// MemoryObjectStore holds field-addressable objects of one resource type
// and exposes a LoaderFunc-compatible Load method.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]model.Attributes
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]model.Attributes)}
}

func (s *MemoryObjectStore) PutObject(id string, attrs model.Attributes) {
	s.mu.Lock()
	s.objects[id] = attrs
	s.mu.Unlock()
}

func (s *MemoryObjectStore) Load(ctx context.Context, resourceID string) (model.Object, error) {
	s.mu.RLock()
	attrs, ok := s.objects[resourceID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return attrs, nil
}

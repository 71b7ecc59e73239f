// policy/registry.go
package policy

import (
	"context"
	"fmt"
	"sync"

	aegis_errors "github.com/aegis-authz/aegis/errors"
	"github.com/aegis-authz/aegis/model"
)

// LoaderFunc fetches one domain object by id. Returning (nil, nil) means
// the resource does not exist.
type LoaderFunc func(ctx context.Context, resourceID string) (model.Object, error)

// Registry maps the closed set of resource-type tags to their loaders. It
// is populated at startup by the persistence layer; a lookup on an
// unregistered tag is a route-configuration error, never a dynamic
// resolution attempt.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]LoaderFunc
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]LoaderFunc)}
}

// Register installs the loader for a resource type, replacing any previous
// registration for the same tag.
func (r *Registry) Register(resourceType string, loader LoaderFunc) {
	r.mu.Lock()
	r.loaders[resourceType] = loader
	r.mu.Unlock()
}

// Load fetches the object for (resourceType, resourceID). An unknown type
// yields ErrUnknownResourceType; a missing object yields ErrResourceNotFound.
func (r *Registry) Load(ctx context.Context, resourceType, resourceID string) (model.Object, error) {
	r.mu.RLock()
	loader, ok := r.loaders[resourceType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", aegis_errors.ErrUnknownResourceType, resourceType)
	}

	obj, err := loader(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s/%s", aegis_errors.ErrResourceNotFound, resourceType, resourceID)
	}
	return obj, nil
}

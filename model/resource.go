// model/resource.go
package model

// Object is a fetched domain object as seen by the policy engine. The
// concrete business models live in the excluded persistence layer; the
// engine only needs field-addressable access for ownership checks and
// condition evaluation.
type Object interface {
	// Attribute returns the named field's value, or false when the
	// object has no such field.
	Attribute(name string) (interface{}, bool)
}

// ContextAuthorizer is implemented by domain objects that carry their own
// permission logic. When a context-aware check is enabled the decision is
// delegated here instead of the flat permission set.
type ContextAuthorizer interface {
	HasPermissionForResource(resource, action string) bool
}

// Attributes is a ready-made Object for loaders that produce plain maps.
type Attributes map[string]interface{}

func (a Attributes) Attribute(name string) (interface{}, bool) {
	v, ok := a[name]
	return v, ok
}

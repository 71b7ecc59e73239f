// model/decision.go
package model

import aegis_errors "github.com/aegis-authz/aegis/errors"

// Decision is the only value a policy strategy returns. A denial always
// carries a reason kind and a human-readable message; strategies never
// hand back a bare boolean.
type Decision struct {
	Allowed bool
	Reason  aegis_errors.Kind
	Message string

	// Object is the resource fetched during evaluation, if any. Adapters
	// attach it to the request so downstream handlers can reuse it.
	Object Object
}

// Allow is the single allowed decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// AllowWith allows and carries the fetched resource object along.
func AllowWith(obj Object) Decision {
	return Decision{Allowed: true, Object: obj}
}

// Deny builds a denial with the given classification.
func Deny(reason aegis_errors.Kind, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

// Err converts a denial into the classified error the adapter raises.
// Calling Err on an allowed decision is a programming error and returns nil.
func (d Decision) Err() *aegis_errors.AuthzError {
	if d.Allowed {
		return nil
	}
	return &aegis_errors.AuthzError{Kind: d.Reason, Message: d.Message}
}

// model/condition.go
package model

// Operator is the closed set of comparison operators a declarative
// condition may use. Free-form operator strings are rejected at
// evaluation entry with an invalid-configuration error.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNin      Operator = "nin"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// IsValid reports whether the operator is one of the supported variants.
func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpContains, OpRegex:
		return true
	}
	return false
}

// Condition is one declarative predicate evaluated against the current
// request. Field is a dotted path; a leading "req." segment selects the
// request metadata, anything else resolves against the parsed body.
//
// Permission, when set, is the permission the identity must hold if the
// predicate matches. AlternativePermission is the designed fallback that
// is consulted before denying.
type Condition struct {
	Field                 string      `json:"field" validate:"required"`
	Operator              Operator    `json:"operator" validate:"required"`
	Value                 interface{} `json:"value"`
	Permission            string      `json:"permission,omitempty"`
	AlternativePermission string      `json:"alternative_permission,omitempty"`
}

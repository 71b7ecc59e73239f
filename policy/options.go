// policy/options.go
package policy

import (
	"time"

	"github.com/aegis-authz/aegis/model"
)

// AuthorizeOptions tune the composite authorize strategy. The zero value
// is a plain permission check with the admin bypass enabled.
type AuthorizeOptions struct {
	// BypassForAdmin defaults to true; set to a false pointer to make the
	// admin role subject to the same checks as everyone else.
	BypassForAdmin *bool

	// CheckOwnership requires the fetched object's OwnerField to match the
	// identity. OwnerField defaults to "owner_id".
	CheckOwnership bool
	OwnerField     string

	// CheckContext delegates the decision to the fetched object's own
	// permission logic when a resource id is present on the route.
	CheckContext bool

	// ResourceIDParam names the route parameter carrying the resource id.
	// Defaults to "id".
	ResourceIDParam string

	// Conditions are additional declarative predicates that must all pass.
	Conditions []model.Condition
}

func (o AuthorizeOptions) bypassForAdmin() bool {
	return o.BypassForAdmin == nil || *o.BypassForAdmin
}

func (o AuthorizeOptions) ownerField() string {
	if o.OwnerField == "" {
		return "owner_id"
	}
	return o.OwnerField
}

func (o AuthorizeOptions) resourceIDParam() string {
	if o.ResourceIDParam == "" {
		return "id"
	}
	return o.ResourceIDParam
}

// HourRange is a half-open [Start, End) local-hour window. End below Start
// describes an overnight window.
type HourRange struct {
	Start int `json:"start" validate:"min=0,max=23"`
	End   int `json:"end" validate:"min=0,max=24"`
}

// TimeOptions restrict access to configured days and hours in a timezone.
// Empty fields are unrestricted.
type TimeOptions struct {
	AllowedDays  []time.Weekday
	AllowedHours *HourRange
	Timezone     string
}

// IPOptions restrict access by client IP provenance. Blacklist entries are
// checked first; a configured whitelist then becomes exhaustive. Entries
// may be exact addresses, CIDR blocks, or wildcard patterns ("10.0.*", "*").
type IPOptions struct {
	Whitelist []string
	Blacklist []string
}

// RateLimitOptions wrap a permission check with a failure-lockout counter.
type RateLimitOptions struct {
	Resource    string `validate:"required"`
	Action      string `validate:"required"`
	MaxAttempts int
	Window      time.Duration

	// KeyFunc overrides the identity+resource+action composite key.
	KeyFunc func(identityID string) string
}

// MFAOptions gate access on the session's verified MFA state.
type MFAOptions struct {
	// Required forces the check even for identities without an MFA policy.
	Required bool
	// AllowedMethods, when set, restricts which verified methods count.
	AllowedMethods []string
}

// AdvancedConfig is the declarative composite: conditional logic first,
// alternative-permission fallback, then a flat or context-aware permission
// check with resource attachment.
type AdvancedConfig struct {
	Permission            string `validate:"required"`
	Conditions            []model.Condition
	AlternativePermission string
	ContextAware          bool
	ResourceIDParam       string
}

func (c AdvancedConfig) resourceIDParam() string {
	if c.ResourceIDParam == "" {
		return "id"
	}
	return c.ResourceIDParam
}

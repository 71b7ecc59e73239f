package model

// CustomPermissions are per-identity overrides layered on top of the
// role's permission list. Denied always wins over granted.
type CustomPermissions struct {
	Granted []string `json:"granted"`
	Denied  []string `json:"denied"`
}

// Identity is the authenticated principal attached to a request by the
// upstream authentication middleware. It is read-only to the policy engine.
//
// Role is always the denormalized role name, never a populated object;
// role records are loaded by name through a RoleStore when needed.
type Identity struct {
	ID                string            `json:"id"`
	Role              string            `json:"role"`
	CustomPermissions CustomPermissions `json:"custom_permissions"`
	Scopes            []string          `json:"scopes"`
	MFAEnabled        bool              `json:"mfa_enabled"`
}

// HasScope reports whether the identity carries the given scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Session carries the MFA state established by the authentication layer.
type Session struct {
	MFAVerified bool   `json:"mfa_verified"`
	MFAMethod   string `json:"mfa_method,omitempty"`
}

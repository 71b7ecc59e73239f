// model/access.go
package model

import (
	"fmt"
	"strings"

	aegis_errors "github.com/aegis-authz/aegis/errors"
)

// Role is a named bundle of permissions. An inactive role contributes no
// permissions at all (fail-closed).
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`
}

// FormatPermission builds the canonical "resource.action" permission name.
func FormatPermission(resource, action string) string {
	return fmt.Sprintf("%s.%s", resource, action)
}

// ParsePermission splits a permission name into its resource and action
// parts. Both "resource.action" and the "resource:action" form used by
// declarative route configs are accepted.
func ParsePermission(name string) (resource, action string, err error) {
	sep := "."
	if strings.Contains(name, ":") {
		sep = ":"
	}
	parts := strings.SplitN(name, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", aegis_errors.ErrInvalidPermissionName, name)
	}
	return parts[0], parts[1], nil
}

// errors/store_errors.go
package errors

import "errors"

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrRoleNotFound     = errors.New("role not found")

	ErrResourceNotFound    = errors.New("resource not found")
	ErrUnknownResourceType = errors.New("unknown resource type")

	ErrInvalidPermissionName = errors.New("invalid permission name")
	ErrInvalidOperator       = errors.New("invalid condition operator")
)

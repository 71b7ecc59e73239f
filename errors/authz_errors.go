// errors/authz_errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an authorization failure. Kinds are stable codes that
// end up in the serialized error body; they are not exception class names.
type Kind string

const (
	KindAuthenticationRequired Kind = "AUTHENTICATION_REQUIRED"
	KindInsufficientPermission Kind = "INSUFFICIENT_PERMISSION"
	KindResourceNotFound       Kind = "RESOURCE_NOT_FOUND"
	KindRateLimitExceeded      Kind = "RATE_LIMIT_EXCEEDED"
	KindInvalidConfiguration   Kind = "INVALID_CONFIGURATION"
	KindMFARequired            Kind = "MFA_REQUIRED"
)

// Status maps a kind to the HTTP status the error renderer should use.
func (k Kind) Status() int {
	switch k {
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindInsufficientPermission, KindMFARequired:
		return http.StatusForbidden
	case KindResourceNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindInvalidConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AuthzError is the classified error every middleware adapter raises on
// denial. Message is user-visible; Err (if any) stays server-side.
type AuthzError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthzError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthzError) Unwrap() error {
	return e.Err
}

func (e *AuthzError) Status() int {
	return e.Kind.Status()
}

// Is lets errors.Is match two AuthzErrors by kind.
func (e *AuthzError) Is(target error) bool {
	var other *AuthzError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func AuthenticationRequired(message string) *AuthzError {
	return &AuthzError{Kind: KindAuthenticationRequired, Message: message}
}

func InsufficientPermission(message string) *AuthzError {
	return &AuthzError{Kind: KindInsufficientPermission, Message: message}
}

func ResourceNotFound(message string) *AuthzError {
	return &AuthzError{Kind: KindResourceNotFound, Message: message}
}

func RateLimitExceeded(message string) *AuthzError {
	return &AuthzError{Kind: KindRateLimitExceeded, Message: message}
}

func InvalidConfiguration(message string, err error) *AuthzError {
	return &AuthzError{Kind: KindInvalidConfiguration, Message: message, Err: err}
}

func MFARequired(message string) *AuthzError {
	return &AuthzError{Kind: KindMFARequired, Message: message}
}

// AsAuthzError extracts an AuthzError from an error chain.
func AsAuthzError(err error) (*AuthzError, bool) {
	var authzErr *AuthzError
	ok := errors.As(err, &authzErr)
	return authzErr, ok
}

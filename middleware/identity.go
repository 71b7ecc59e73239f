// middleware/identity.go
package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	logger "github.com/aegis-authz/aegis/logging"
	"github.com/aegis-authz/aegis/model"
)

// Context keys under which the authentication layer attaches state. The
// authorization middlewares only read these; populating them is the
// upstream collaborator's contract.
const (
	IdentityKey = "identity"
	SessionKey  = "session"
	ResourceKey = "resource"
)

// CurrentIdentity returns the identity attached by the authentication
// middleware, or false when the request is unauthenticated.
func CurrentIdentity(c *gin.Context) (*model.Identity, bool) {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*model.Identity)
	return identity, ok && identity != nil
}

// CurrentSession returns the MFA session state, if the authentication
// layer attached one.
func CurrentSession(c *gin.Context) *model.Session {
	value, exists := c.Get(SessionKey)
	if !exists {
		return nil
	}
	session, _ := value.(*model.Session)
	return session
}

// AttachIdentity is a test and demo helper that installs a fixed identity
// and session on every request.
func AttachIdentity(identity *model.Identity, session *model.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(IdentityKey, identity)
		if session != nil {
			c.Set(SessionKey, session)
		}
		c.Next()
	}
}

// IdentityClaims is the token shape the reference JWT middleware expects.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes,omitempty"`
	Granted     []string `json:"granted,omitempty"`
	Denied      []string `json:"denied,omitempty"`
	MFAEnabled  bool     `json:"mfa_enabled,omitempty"`
	MFAVerified bool     `json:"mfa_verified,omitempty"`
	MFAMethod   string   `json:"mfa_method,omitempty"`
}

// JWTIdentity is a reference implementation of the authentication
// collaborator: it verifies an HMAC-signed bearer token and attaches the
// resulting identity and session. Requests without a valid token proceed
// unauthenticated; the authorization middlewares will reject them.
func JWTIdentity(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &IdentityClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			logger.Warn("Rejected bearer token", zap.Error(err), zap.String("ip", c.ClientIP()))
			c.Next()
			return
		}

		identity := &model.Identity{
			ID:   claims.Subject,
			Role: claims.Role,
			CustomPermissions: model.CustomPermissions{
				Granted: claims.Granted,
				Denied:  claims.Denied,
			},
			Scopes:     claims.Scopes,
			MFAEnabled: claims.MFAEnabled,
		}
		c.Set(IdentityKey, identity)
		c.Set(SessionKey, &model.Session{
			MFAVerified: claims.MFAVerified,
			MFAMethod:   claims.MFAMethod,
		})

		c.Next()
	}
}

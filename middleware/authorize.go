// middleware/authorize.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegis-authz/aegis/audit"
	aegis_errors "github.com/aegis-authz/aegis/errors"
	logger "github.com/aegis-authz/aegis/logging"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/policy"
	"github.com/aegis-authz/aegis/util"
)

// Authorizer wraps the policy evaluator's strategies into gin middleware.
// An adapter verifies an identity is attached, builds the request context,
// invokes exactly one strategy, and either continues the chain or funnels
// the classified error to the shared error handler.
type Authorizer struct {
	evaluator *policy.Evaluator
	validator *util.ValidationUtil
	eventBus  *util.EventBus
}

// NewAuthorizer creates the middleware factory set. The event bus is
// optional; when present every verdict is published as an audit event.
func NewAuthorizer(evaluator *policy.Evaluator, eventBus *util.EventBus) *Authorizer {
	return &Authorizer{
		evaluator: evaluator,
		validator: util.NewValidationUtil(),
		eventBus:  eventBus,
	}
}

type decideFunc func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision

// handle is the shared adapter skeleton.
func (a *Authorizer) handle(c *gin.Context, resource, action string, decide decideFunc) {
	identity, ok := CurrentIdentity(c)
	if !ok {
		a.deny(c, nil, resource, action, aegis_errors.AuthenticationRequired("authentication required"))
		return
	}

	reqCtx := buildRequestContext(c, identity)
	decision := decide(identity, reqCtx)

	a.publishDecision(c, identity, resource, action, decision)

	if !decision.Allowed {
		a.deny(c, identity, resource, action, decision.Err())
		return
	}

	if decision.Object != nil {
		// Downstream handlers reuse the fetched resource without refetching.
		c.Set(ResourceKey, decision.Object)
	}
	c.Next()
}

func (a *Authorizer) deny(c *gin.Context, identity *model.Identity, resource, action string, err *aegis_errors.AuthzError) {
	identityID := ""
	if identity != nil {
		identityID = identity.ID
	}
	logger.Info("Authorization denied",
		zap.String("identityID", identityID),
		zap.String("resource", resource),
		zap.String("action", action),
		zap.String("code", string(err.Kind)),
		zap.String("path", c.Request.URL.Path))

	c.Error(err)
	c.Abort()
}

func (a *Authorizer) publishDecision(c *gin.Context, identity *model.Identity, resource, action string, decision model.Decision) {
	if a.eventBus == nil {
		return
	}
	log := audit.DecisionLog{
		Timestamp:  time.Now(),
		IdentityID: identity.ID,
		Resource:   resource,
		Action:     action,
		Allowed:    decision.Allowed,
		Reason:     string(decision.Reason),
		ClientIP:   c.ClientIP(),
		Path:       c.Request.URL.Path,
	}
	// Handlers run after the response is written; the request context
	// would cancel the audit write mid-flight.
	a.eventBus.Publish(context.WithoutCancel(c.Request.Context()), audit.EventDecision, log)
}

// Authorize is the general-purpose middleware: admin bypass, permission or
// context check, optional ownership and conditions, all conjunctive.
func (a *Authorizer) Authorize(resource, action string, opts ...policy.AuthorizeOptions) gin.HandlerFunc {
	var options policy.AuthorizeOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	return func(c *gin.Context) {
		a.handle(c, resource, action, func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.Authorize(c.Request.Context(), identity, resource, action, options, reqCtx)
		})
	}
}

// AuthorizeRoles allows identities whose role is one of the given roles.
// The admin role always passes.
func (a *Authorizer) AuthorizeRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			if a.evaluator.IsAdmin(identity) {
				return model.Allow()
			}
			return a.evaluator.CheckRoles(identity, roles...)
		})
	}
}

// CheckPermission gates on a single "resource.action" permission name.
func (a *Authorizer) CheckPermission(permissionName string) gin.HandlerFunc {
	resource, action, parseErr := model.ParsePermission(permissionName)
	return func(c *gin.Context) {
		if parseErr != nil {
			a.configError(c, "malformed permission name", parseErr)
			return
		}
		a.handle(c, resource, action, func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			if a.evaluator.IsAdmin(identity) {
				return model.Allow()
			}
			return a.evaluator.CheckPermission(c.Request.Context(), identity, resource, action)
		})
	}
}

// ConditionalAuthorize gates on declarative conditions: each matching
// predicate requires its associated permission.
func (a *Authorizer) ConditionalAuthorize(conditions []model.Condition) gin.HandlerFunc {
	validationErr := a.validator.ValidateConditions(conditions)
	return func(c *gin.Context) {
		if validationErr != nil {
			a.configError(c, "malformed condition list", validationErr)
			return
		}
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckConditional(c.Request.Context(), identity, conditions, reqCtx)
		})
	}
}

// AuthorizeScope requires every listed scope to be present on the identity.
func (a *Authorizer) AuthorizeScope(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckScopes(identity, requiredScopes...)
		})
	}
}

// TimeBasedAuthorize restricts access to configured days and hours.
func (a *Authorizer) TimeBasedAuthorize(opts policy.TimeOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckTime(opts)
		})
	}
}

// IPAuthorize restricts access by client IP provenance.
func (a *Authorizer) IPAuthorize(opts policy.IPOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckIP(opts, c.ClientIP())
		})
	}
}

// RateLimitedAuthorize wraps a permission check with the failure-lockout
// counter.
func (a *Authorizer) RateLimitedAuthorize(opts policy.RateLimitOptions) gin.HandlerFunc {
	validationErr := a.validator.ValidateStruct(opts)
	return func(c *gin.Context) {
		if validationErr != nil {
			a.configError(c, "malformed rate limit options", validationErr)
			return
		}
		a.handle(c, opts.Resource, opts.Action, func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckRateLimited(c.Request.Context(), identity, opts)
		})
	}
}

// MFAAuthorize denies when the session lacks verified MFA.
func (a *Authorizer) MFAAuthorize(opts policy.MFAOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			return a.evaluator.CheckMFA(identity, CurrentSession(c), opts)
		})
	}
}

// AuthorizeContext is Authorize with the context-aware check forced on.
func (a *Authorizer) AuthorizeContext(resource, action string, opts ...policy.AuthorizeOptions) gin.HandlerFunc {
	var options policy.AuthorizeOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	options.CheckContext = true
	return a.Authorize(resource, action, options)
}

// CheckAdvancedPermission accepts either a "resource:action" string or a
// full AdvancedConfig. Anything else is a route-configuration error.
func (a *Authorizer) CheckAdvancedPermission(permissionConfig interface{}) gin.HandlerFunc {
	var config policy.AdvancedConfig
	var configErr error

	switch cfg := permissionConfig.(type) {
	case string:
		config = policy.AdvancedConfig{Permission: cfg}
	case policy.AdvancedConfig:
		config = cfg
	default:
		configErr = aegis_errors.InvalidConfiguration("unsupported permission config type", nil)
	}
	if configErr == nil {
		configErr = a.validator.ValidateStruct(config)
	}
	if configErr == nil {
		configErr = a.validator.ValidateConditions(config.Conditions)
	}

	return func(c *gin.Context) {
		if configErr != nil {
			a.configError(c, "malformed permission config", configErr)
			return
		}
		a.handle(c, "", "", func(identity *model.Identity, reqCtx *policy.RequestContext) model.Decision {
			if a.evaluator.IsAdmin(identity) {
				return model.Allow()
			}
			return a.evaluator.CheckAdvanced(c.Request.Context(), identity, config, reqCtx)
		})
	}
}

func (a *Authorizer) configError(c *gin.Context, message string, err error) {
	logger.Error("Route authorization misconfiguration",
		zap.Error(err),
		zap.String("path", c.FullPath()))
	c.Error(aegis_errors.InvalidConfiguration(message, err))
	c.Abort()
}

// buildRequestContext captures the framework-neutral request view. The
// body is read and restored so downstream handlers can still bind it.
func buildRequestContext(c *gin.Context, identity *model.Identity) *policy.RequestContext {
	reqCtx := &policy.RequestContext{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		ClientIP: c.ClientIP(),
		Params:   make(map[string]string, len(c.Params)),
		Query:    make(map[string]string),
		Headers:  make(map[string]string),
		Identity: identity,
		Session:  CurrentSession(c),
	}

	for _, param := range c.Params {
		reqCtx.Params[param.Key] = param.Value
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			reqCtx.Query[key] = values[0]
		}
	}
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			reqCtx.Headers[key] = values[0]
		}
	}

	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			if len(raw) > 0 {
				var body map[string]interface{}
				if err := json.Unmarshal(raw, &body); err == nil {
					reqCtx.Body = body
				}
			}
		}
	}

	return reqCtx
}

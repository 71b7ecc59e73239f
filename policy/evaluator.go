// policy/evaluator.go
package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-authz/aegis/cache"
	aegis_errors "github.com/aegis-authz/aegis/errors"
	logger "github.com/aegis-authz/aegis/logging"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/resolver"
)

// Config carries the evaluator-wide defaults.
type Config struct {
	AdminRole          string
	FailureMaxAttempts int
	FailureWindow      time.Duration
}

func (c *Config) applyDefaults() {
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}
	if c.FailureMaxAttempts <= 0 {
		c.FailureMaxAttempts = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
}

// Evaluator is the set of composable authorization strategies. Every
// strategy is a pure decision function over the identity, the resource
// descriptor, its options, and the request context; strategies never write
// to the response and never panic on bad input.
type Evaluator struct {
	resolver  resolver.IPermissionResolver
	registry  *Registry
	ownership cache.OwnershipCache
	failures  cache.FailureCounter
	config    Config

	now func() time.Time
}

func NewEvaluator(perms resolver.IPermissionResolver, registry *Registry, ownership cache.OwnershipCache, failures cache.FailureCounter, config Config) *Evaluator {
	config.applyDefaults()
	return &Evaluator{
		resolver:  perms,
		registry:  registry,
		ownership: ownership,
		failures:  failures,
		config:    config,
		now:       time.Now,
	}
}

// IsAdmin reports whether the identity holds the configured admin role.
func (e *Evaluator) IsAdmin(identity *model.Identity) bool {
	return identity != nil && identity.Role == e.config.AdminRole
}

// CheckRoles allows identities whose role is in the allowed list.
func (e *Evaluator) CheckRoles(identity *model.Identity, roles ...string) model.Decision {
	for _, role := range roles {
		if identity.Role == role {
			return model.Allow()
		}
	}
	return model.Deny(aegis_errors.KindInsufficientPermission,
		fmt.Sprintf("role %q is not permitted for this operation", identity.Role))
}

// CheckPermission allows iff the identity's effective permission set
// contains resource.action.
func (e *Evaluator) CheckPermission(ctx context.Context, identity *model.Identity, resource, action string) model.Decision {
	permission := model.FormatPermission(resource, action)
	if e.resolver.HasPermission(ctx, identity.ID, permission) {
		return model.Allow()
	}
	return model.Deny(aegis_errors.KindInsufficientPermission,
		fmt.Sprintf("missing permission %q", permission))
}

// CheckContext delegates the decision to the fetched object's own
// permission logic. Objects that do not implement ContextAuthorizer fall
// back to the flat permission check.
func (e *Evaluator) CheckContext(ctx context.Context, identity *model.Identity, obj model.Object, resource, action string) model.Decision {
	if obj == nil {
		return model.Deny(aegis_errors.KindInsufficientPermission,
			"resource required for context check was not found")
	}
	authorizer, ok := obj.(model.ContextAuthorizer)
	if !ok {
		return e.CheckPermission(ctx, identity, resource, action)
	}
	if authorizer.HasPermissionForResource(resource, action) {
		return model.Allow()
	}
	return model.Deny(aegis_errors.KindInsufficientPermission,
		fmt.Sprintf("resource context denies %s on %s", action, resource))
}

// CheckOwnership allows iff the object's owner field matches the identity.
// Verdicts are memoized in the ownership cache.
func (e *Evaluator) CheckOwnership(ctx context.Context, identity *model.Identity, obj model.Object, resourceType, resourceID, ownerField string) model.Decision {
	key := cache.OwnershipKey{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IdentityID:   identity.ID,
	}

	if isOwner, ok, err := e.ownership.Get(ctx, key); err != nil {
		logger.Warn("Ownership cache lookup failed", zap.Error(err), zap.String("key", key.String()))
	} else if ok {
		if isOwner {
			return model.Allow()
		}
		return model.Deny(aegis_errors.KindInsufficientPermission,
			"you do not own this resource")
	}

	if obj == nil {
		return model.Deny(aegis_errors.KindInsufficientPermission,
			"resource required for ownership check was not found")
	}

	owner, found := obj.Attribute(ownerField)
	isOwner := found && fmt.Sprint(owner) == identity.ID

	if err := e.ownership.Set(ctx, key, isOwner); err != nil {
		logger.Warn("Failed to cache ownership verdict", zap.Error(err), zap.String("key", key.String()))
	}

	if isOwner {
		return model.Allow()
	}
	return model.Deny(aegis_errors.KindInsufficientPermission,
		"you do not own this resource")
}

// CheckConditional evaluates each condition's predicate; for every
// condition that matches, its associated permission (or the alternative
// permission, the one designed OR in the engine) must be held.
func (e *Evaluator) CheckConditional(ctx context.Context, identity *model.Identity, conditions []model.Condition, reqCtx *RequestContext) model.Decision {
	for _, condition := range conditions {
		matched, err := EvaluateCondition(condition, reqCtx)
		if err != nil {
			return model.Deny(aegis_errors.KindInvalidConfiguration,
				fmt.Sprintf("malformed condition on field %q: %v", condition.Field, err))
		}
		if !matched {
			continue
		}
		if condition.Permission == "" {
			// A bare predicate acts as a gate: matching without an
			// associated permission is a denial.
			return model.Deny(aegis_errors.KindInsufficientPermission,
				fmt.Sprintf("condition on field %q matched but grants no permission", condition.Field))
		}
		if e.resolver.HasPermission(ctx, identity.ID, condition.Permission) {
			continue
		}
		if condition.AlternativePermission != "" &&
			e.resolver.HasPermission(ctx, identity.ID, condition.AlternativePermission) {
			continue
		}
		return model.Deny(aegis_errors.KindInsufficientPermission,
			fmt.Sprintf("missing permission %q", condition.Permission))
	}
	return model.Allow()
}

// CheckScopes allows iff every required scope is present on the identity.
func (e *Evaluator) CheckScopes(identity *model.Identity, required ...string) model.Decision {
	for _, scope := range required {
		if !identity.HasScope(scope) {
			return model.Deny(aegis_errors.KindInsufficientPermission,
				fmt.Sprintf("missing scope %q", scope))
		}
	}
	return model.Allow()
}

// CheckTime allows iff the current local day and hour fall inside the
// configured windows.
func (e *Evaluator) CheckTime(opts TimeOptions) model.Decision {
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return model.Deny(aegis_errors.KindInvalidConfiguration,
			fmt.Sprintf("unknown timezone %q", tz))
	}

	now := e.now().In(loc)

	if len(opts.AllowedDays) > 0 {
		dayAllowed := false
		for _, day := range opts.AllowedDays {
			if now.Weekday() == day {
				dayAllowed = true
				break
			}
		}
		if !dayAllowed {
			return model.Deny(aegis_errors.KindInsufficientPermission,
				fmt.Sprintf("access is not permitted on %s", now.Weekday()))
		}
	}

	if opts.AllowedHours != nil {
		hour := now.Hour()
		window := opts.AllowedHours
		var inWindow bool
		if window.Start <= window.End {
			inWindow = hour >= window.Start && hour < window.End
		} else {
			// Overnight window, e.g. 22 to 6.
			inWindow = hour >= window.Start || hour < window.End
		}
		if !inWindow {
			return model.Deny(aegis_errors.KindInsufficientPermission,
				fmt.Sprintf("access is not permitted at hour %d", hour))
		}
	}

	return model.Allow()
}

// CheckIP applies the blacklist first, then the whitelist if one is
// configured. Entries match exactly, by CIDR, or by wildcard.
func (e *Evaluator) CheckIP(opts IPOptions, clientIP string) model.Decision {
	for _, entry := range opts.Blacklist {
		if matchIP(entry, clientIP) {
			return model.Deny(aegis_errors.KindInsufficientPermission,
				"access from this address is blocked")
		}
	}

	if len(opts.Whitelist) > 0 {
		for _, entry := range opts.Whitelist {
			if matchIP(entry, clientIP) {
				return model.Allow()
			}
		}
		return model.Deny(aegis_errors.KindInsufficientPermission,
			"access from this address is not permitted")
	}

	return model.Allow()
}

func matchIP(entry, clientIP string) bool {
	if entry == "*" {
		return true
	}
	if strings.Contains(entry, "/") {
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn("Invalid CIDR entry in IP policy", zap.String("entry", entry))
			return false
		}
		ip := net.ParseIP(clientIP)
		return ip != nil && network.Contains(ip)
	}
	if strings.Contains(entry, "*") {
		prefix := strings.SplitN(entry, "*", 2)[0]
		return strings.HasPrefix(clientIP, prefix)
	}
	return entry == clientIP
}

// CheckRateLimited wraps a permission check with the failure-lockout
// counter: a locked key denies immediately, a wrapped failure increments
// the counter, a wrapped success resets it.
func (e *Evaluator) CheckRateLimited(ctx context.Context, identity *model.Identity, opts RateLimitOptions) model.Decision {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.config.FailureMaxAttempts
	}
	window := opts.Window
	if window <= 0 {
		window = e.config.FailureWindow
	}

	key := fmt.Sprintf("%s:%s:%s", identity.ID, opts.Resource, opts.Action)
	if opts.KeyFunc != nil {
		key = opts.KeyFunc(identity.ID)
	}

	count, err := e.failures.Count(ctx, key)
	if err != nil {
		logger.Warn("Failure counter lookup failed", zap.Error(err), zap.String("key", key))
	}
	if count >= int64(maxAttempts) {
		return model.Deny(aegis_errors.KindRateLimitExceeded,
			"too many failed authorization attempts, try again later")
	}

	decision := e.CheckPermission(ctx, identity, opts.Resource, opts.Action)
	if decision.Allowed {
		if err := e.failures.Reset(ctx, key); err != nil {
			logger.Warn("Failed to reset failure counter", zap.Error(err), zap.String("key", key))
		}
		return decision
	}

	if _, err := e.failures.Fail(ctx, key, window); err != nil {
		logger.Warn("Failed to record authorization failure", zap.Error(err), zap.String("key", key))
	}
	return decision
}

// CheckMFA denies when MFA is required — by explicit option or by the
// identity's own policy — and the session is not verified with an
// acceptable method.
func (e *Evaluator) CheckMFA(identity *model.Identity, session *model.Session, opts MFAOptions) model.Decision {
	required := opts.Required || identity.MFAEnabled
	if !required {
		return model.Allow()
	}

	if session == nil || !session.MFAVerified {
		return model.Deny(aegis_errors.KindMFARequired,
			"multi-factor authentication is required")
	}

	if len(opts.AllowedMethods) > 0 {
		methodAllowed := false
		for _, method := range opts.AllowedMethods {
			if session.MFAMethod == method {
				methodAllowed = true
				break
			}
		}
		if !methodAllowed {
			return model.Deny(aegis_errors.KindMFARequired,
				fmt.Sprintf("MFA method %q is not accepted for this operation", session.MFAMethod))
		}
	}

	return model.Allow()
}

// CheckAdvanced evaluates a declarative composite config: conditional
// logic first, the alternative permission as the fallback when conditions
// fail, then a flat or context-aware permission check. The fetched
// resource rides along on the allowed decision.
func (e *Evaluator) CheckAdvanced(ctx context.Context, identity *model.Identity, config AdvancedConfig, reqCtx *RequestContext) model.Decision {
	resource, action, err := model.ParsePermission(config.Permission)
	if err != nil {
		return model.Deny(aegis_errors.KindInvalidConfiguration,
			fmt.Sprintf("malformed permission %q", config.Permission))
	}

	if len(config.Conditions) > 0 {
		matched, err := EvaluateConditions(config.Conditions, reqCtx)
		if err != nil {
			return model.Deny(aegis_errors.KindInvalidConfiguration,
				fmt.Sprintf("malformed condition: %v", err))
		}
		if !matched {
			if config.AlternativePermission != "" &&
				e.resolver.HasPermission(ctx, identity.ID, config.AlternativePermission) {
				return model.Allow()
			}
			return model.Deny(aegis_errors.KindInsufficientPermission,
				"request does not satisfy the required conditions")
		}
	}

	resourceID := reqCtx.Params[config.resourceIDParam()]
	if config.ContextAware && resourceID != "" {
		obj, decision := e.loadResource(ctx, resource, resourceID)
		if !decision.Allowed {
			return decision
		}
		if d := e.CheckContext(ctx, identity, obj, resource, action); !d.Allowed {
			return d
		}
		return model.AllowWith(obj)
	}

	return e.CheckPermission(ctx, identity, resource, action)
}

// Authorize is the composite strategy behind the general-purpose authorize
// middleware. All configured checks are conjunctive; the only designed OR
// is the conditional alternative-permission fallback.
func (e *Evaluator) Authorize(ctx context.Context, identity *model.Identity, resource, action string, opts AuthorizeOptions, reqCtx *RequestContext) model.Decision {
	if opts.bypassForAdmin() && e.IsAdmin(identity) {
		return model.Allow()
	}

	var obj model.Object
	resourceID := reqCtx.Params[opts.resourceIDParam()]
	if (opts.CheckContext || opts.CheckOwnership) && resourceID != "" {
		var decision model.Decision
		obj, decision = e.loadResource(ctx, resource, resourceID)
		if !decision.Allowed {
			return decision
		}
	}

	if opts.CheckContext && obj != nil {
		if d := e.CheckContext(ctx, identity, obj, resource, action); !d.Allowed {
			return d
		}
	} else {
		if d := e.CheckPermission(ctx, identity, resource, action); !d.Allowed {
			return d
		}
	}

	if opts.CheckOwnership {
		if d := e.CheckOwnership(ctx, identity, obj, resource, resourceID, opts.ownerField()); !d.Allowed {
			return d
		}
	}

	if len(opts.Conditions) > 0 {
		if d := e.CheckConditional(ctx, identity, opts.Conditions, reqCtx); !d.Allowed {
			return d
		}
	}

	return model.AllowWith(obj)
}

// loadResource fetches via the registry and classifies failures: unknown
// tags are configuration errors; a missing resource required for a check
// is a denial, never a silent allow.
func (e *Evaluator) loadResource(ctx context.Context, resourceType, resourceID string) (model.Object, model.Decision) {
	obj, err := e.registry.Load(ctx, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, aegis_errors.ErrUnknownResourceType) {
			return nil, model.Deny(aegis_errors.KindInvalidConfiguration,
				fmt.Sprintf("no loader registered for resource type %q", resourceType))
		}
		if errors.Is(err, aegis_errors.ErrResourceNotFound) {
			return nil, model.Deny(aegis_errors.KindInsufficientPermission,
				"resource required for authorization was not found")
		}
		logger.Error("Resource loader failed",
			zap.Error(err),
			zap.String("resourceType", resourceType),
			zap.String("resourceID", resourceID))
		return nil, model.Deny(aegis_errors.KindInsufficientPermission,
			"resource required for authorization could not be loaded")
	}
	return obj, model.Allow()
}

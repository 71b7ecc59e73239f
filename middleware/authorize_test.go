package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-authz/aegis/audit"
	"github.com/aegis-authz/aegis/cache"
	"github.com/aegis-authz/aegis/middleware"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/policy"
	"github.com/aegis-authz/aegis/resolver"
	"github.com/aegis-authz/aegis/store"
	"github.com/aegis-authz/aegis/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	authorizer *middleware.Authorizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	identities := store.NewMemoryIdentityStore()
	identities.PutIdentity(model.Identity{ID: "u1", Role: "editor", Scopes: []string{"reports:read"}})
	identities.PutIdentity(model.Identity{ID: "u2", Role: "viewer"})
	identities.PutIdentity(model.Identity{ID: "u3", Role: "editor"})
	identities.PutIdentity(model.Identity{ID: "root", Role: "admin"})

	roles := store.NewMemoryRoleStore()
	roles.PutRole(model.Role{Name: "admin", Permissions: []string{}, IsActive: true})
	roles.PutRole(model.Role{Name: "editor", Permissions: []string{
		"customers.read", "customers.update", "documents.read", "documents.update", "payments.approve",
	}, IsActive: true})
	roles.PutRole(model.Role{Name: "viewer", Permissions: []string{
		"customers.read", "documents.read",
	}, IsActive: true})

	documents := store.NewMemoryObjectStore()
	documents.PutObject("d1", model.Attributes{"ownerId": "u1", "title": "draft"})

	registry := policy.NewRegistry()
	registry.Register("documents", documents.Load)

	perms := resolver.NewPermissionResolver(identities, roles, cache.NewMemoryPermissionCache(time.Minute), nil)
	evaluator := policy.NewEvaluator(perms, registry,
		cache.NewMemoryOwnershipCache(16, time.Minute),
		cache.NewMemoryFailureCounter(),
		policy.Config{AdminRole: "admin"})

	return &testEnv{authorizer: middleware.NewAuthorizer(evaluator, nil)}
}

// perform runs one request through error handler + identity + the guard.
func perform(identity *model.Identity, session *model.Session, guard gin.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	if identity != nil {
		router.Use(middleware.AttachIdentity(identity, session))
	}
	router.Handle(method, "/r/:id", guard, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	w := perform(nil, nil, env.authorizer.CheckPermission("customers.read"), http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "AUTHENTICATION_REQUIRED", body["code"])
}

func TestCheckPermission(t *testing.T) {
	env := newTestEnv(t)
	viewer := &model.Identity{ID: "u2", Role: "viewer"}

	w := perform(viewer, nil, env.authorizer.CheckPermission("customers.read"), http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(viewer, nil, env.authorizer.CheckPermission("customers.delete"), http.MethodDelete, "/r/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INSUFFICIENT_PERMISSION", body["code"])
	assert.NotEmpty(t, body["message"])
}

func TestCheckPermission_AdminBypass(t *testing.T) {
	env := newTestEnv(t)
	admin := &model.Identity{ID: "root", Role: "admin"}

	// The admin role holds no permission entries at all.
	w := perform(admin, nil, env.authorizer.CheckPermission("customers.delete"), http.MethodDelete, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckPermission_MalformedNameIsConfigError(t *testing.T) {
	env := newTestEnv(t)
	editor := &model.Identity{ID: "u1", Role: "editor"}

	w := perform(editor, nil, env.authorizer.CheckPermission("customersread"), http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INVALID_CONFIGURATION", decodeBody(t, w)["code"])
}

func TestAuthorize_Ownership(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.Authorize("documents", "update", policy.AuthorizeOptions{
		CheckOwnership: true,
		OwnerField:     "ownerId",
	})

	owner := &model.Identity{ID: "u1", Role: "editor"}
	w := perform(owner, nil, guard, http.MethodPut, "/r/d1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// u3 holds the permission but does not own d1.
	stranger := &model.Identity{ID: "u3", Role: "editor"}
	w = perform(stranger, nil, guard, http.MethodPut, "/r/d1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", decodeBody(t, w)["code"])
}

func TestAuthorize_AttachesResource(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.Authorize("documents", "update", policy.AuthorizeOptions{
		CheckOwnership: true,
		OwnerField:     "ownerId",
	})

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.AttachIdentity(&model.Identity{ID: "u1", Role: "editor"}, nil))
	router.PUT("/r/:id", guard, func(c *gin.Context) {
		value, exists := c.Get(middleware.ResourceKey)
		require.True(t, exists)
		obj, ok := value.(model.Object)
		require.True(t, ok)
		title, _ := obj.Attribute("title")
		c.JSON(http.StatusOK, gin.H{"title": title})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/r/d1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "draft", decodeBody(t, w)["title"])
}

func TestConditionalAuthorize(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.ConditionalAuthorize([]model.Condition{{
		Field:      "amount",
		Operator:   model.OpGt,
		Value:      1000,
		Permission: "payments.approveLarge",
	}})

	editor := &model.Identity{ID: "u1", Role: "editor"}

	// Small payments never trip the condition.
	w := perform(editor, nil, guard, http.MethodPost, "/r/1", `{"amount": 10}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Large payments require a permission the editor role lacks.
	w = perform(editor, nil, guard, http.MethodPost, "/r/1", `{"amount": 5000}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", decodeBody(t, w)["code"])
}

func TestConditionalAuthorize_InvalidOperatorIsConfigError(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.ConditionalAuthorize([]model.Condition{{
		Field:      "amount",
		Operator:   "like",
		Value:      "5%",
		Permission: "payments.approve",
	}})

	w := perform(&model.Identity{ID: "u1", Role: "editor"}, nil, guard, http.MethodPost, "/r/1", `{"amount": 1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INVALID_CONFIGURATION", decodeBody(t, w)["code"])
}

func TestAuthorizeRoles(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.AuthorizeRoles("editor")

	w := perform(&model.Identity{ID: "u1", Role: "editor"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(&model.Identity{ID: "u2", Role: "viewer"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin passes any role gate.
	w = perform(&model.Identity{ID: "root", Role: "admin"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorizeScope(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.AuthorizeScope("reports:read")

	scoped := &model.Identity{ID: "u1", Role: "editor", Scopes: []string{"reports:read"}}
	w := perform(scoped, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(&model.Identity{ID: "u2", Role: "viewer"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMFAAuthorize(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.MFAAuthorize(policy.MFAOptions{Required: true})
	identity := &model.Identity{ID: "u1", Role: "editor"}

	w := perform(identity, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "MFA_REQUIRED", decodeBody(t, w)["code"])

	w = perform(identity, &model.Session{MFAVerified: true, MFAMethod: "totp"}, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitedAuthorize_Lockout(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.RateLimitedAuthorize(policy.RateLimitOptions{
		Resource:    "transfers",
		Action:      "create",
		MaxAttempts: 3,
		Window:      time.Minute,
	})
	viewer := &model.Identity{ID: "u2", Role: "viewer"}

	for i := 0; i < 3; i++ {
		w := perform(viewer, nil, guard, http.MethodPost, "/r/1", "")
		assert.Equal(t, http.StatusForbidden, w.Code, "attempt %d", i+1)
	}

	w := perform(viewer, nil, guard, http.MethodPost, "/r/1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeBody(t, w)["code"])
}

func TestCheckAdvancedPermission(t *testing.T) {
	env := newTestEnv(t)

	// String form.
	guard := env.authorizer.CheckAdvancedPermission("documents:read")
	w := perform(&model.Identity{ID: "u2", Role: "viewer"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Struct form with a context-aware resource fetch.
	guard = env.authorizer.CheckAdvancedPermission(policy.AdvancedConfig{
		Permission:   "documents.update",
		ContextAware: true,
	})
	w = perform(&model.Identity{ID: "u1", Role: "editor"}, nil, guard, http.MethodPut, "/r/d1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Unsupported config type is a route-configuration error.
	guard = env.authorizer.CheckAdvancedPermission(42)
	w = perform(&model.Identity{ID: "u1", Role: "editor"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INVALID_CONFIGURATION", decodeBody(t, w)["code"])
}

func TestTimeBasedAuthorize_UnknownTimezone(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.TimeBasedAuthorize(policy.TimeOptions{Timezone: "Mars/Olympus"})

	w := perform(&model.Identity{ID: "u1", Role: "editor"}, nil, guard, http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INVALID_CONFIGURATION", decodeBody(t, w)["code"])
}

func TestIPAuthorize(t *testing.T) {
	env := newTestEnv(t)
	guard := env.authorizer.IPAuthorize(policy.IPOptions{Whitelist: []string{"10.0.0.1"}})
	identity := &model.Identity{ID: "u1", Role: "editor"}

	router := gin.New()
	router.SetTrustedProxies(nil)
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.AttachIdentity(identity, nil))
	router.GET("/r/:id", guard, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/r/1", nil)
	req.RemoteAddr = "10.0.0.1:51000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/r/1", nil)
	req.RemoteAddr = "10.0.0.2:51000"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDecisionPublishSurvivesRequestCancellation(t *testing.T) {
	identities := store.NewMemoryIdentityStore()
	identities.PutIdentity(model.Identity{ID: "u2", Role: "viewer"})
	roles := store.NewMemoryRoleStore()
	roles.PutRole(model.Role{Name: "viewer", Permissions: []string{"customers.read"}, IsActive: true})

	perms := resolver.NewPermissionResolver(identities, roles, cache.NewMemoryPermissionCache(time.Minute), nil)
	evaluator := policy.NewEvaluator(perms, policy.NewRegistry(),
		cache.NewMemoryOwnershipCache(16, time.Minute),
		cache.NewMemoryFailureCounter(),
		policy.Config{AdminRole: "admin"})

	eventBus := util.NewEventBus()
	handlerCtx := make(chan context.Context, 1)
	eventBus.Subscribe(audit.EventDecision, func(ctx context.Context, event util.Event) error {
		handlerCtx <- ctx
		return nil
	})

	authorizer := middleware.NewAuthorizer(evaluator, eventBus)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.AttachIdentity(&model.Identity{ID: "u2", Role: "viewer"}, nil))
	router.GET("/r/:id", authorizer.CheckPermission("customers.read"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/r/1", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// The request finishing must not cancel the async audit write.
	cancel()
	select {
	case ctx := <-handlerCtx:
		assert.NoError(t, ctx.Err())
	case <-time.After(time.Second):
		t.Fatal("decision event was never published")
	}
}

func TestDeniedListedPermissionNeverGranted(t *testing.T) {
	// A per-identity denial beats both the role grant and an explicit grant.
	barred := &model.Identity{
		ID:   "u3",
		Role: "editor",
		CustomPermissions: model.CustomPermissions{
			Granted: []string{"customers.read"},
			Denied:  []string{"customers.read"},
		},
	}

	identities := store.NewMemoryIdentityStore()
	identities.PutIdentity(*barred)
	roles := store.NewMemoryRoleStore()
	roles.PutRole(model.Role{Name: "editor", Permissions: []string{"customers.read"}, IsActive: true})

	perms := resolver.NewPermissionResolver(identities, roles, cache.NewMemoryPermissionCache(time.Minute), nil)
	evaluator := policy.NewEvaluator(perms, policy.NewRegistry(),
		cache.NewMemoryOwnershipCache(16, time.Minute),
		cache.NewMemoryFailureCounter(),
		policy.Config{AdminRole: "admin"})
	authorizer := middleware.NewAuthorizer(evaluator, nil)

	w := perform(barred, nil, authorizer.CheckPermission("customers.read"), http.MethodGet, "/r/1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

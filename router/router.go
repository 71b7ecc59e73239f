// router/router.go

package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegis-authz/aegis/middleware"
	"github.com/aegis-authz/aegis/model"
	"github.com/aegis-authz/aegis/policy"
)

// SetupRouter wires the demo API. Every authorization middleware factory
// is exercised by at least one route; handlers are stubs that echo back
// whatever the adapters attached.
func SetupRouter(authorizer *middleware.Authorizer, jwtSecret []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger())
	router.Use(middleware.JWTIdentity(jwtSecret))

	api := router.Group("/api/v1")

	api.GET("/customers",
		authorizer.CheckPermission("customers.read"),
		okHandler)
	api.DELETE("/customers/:id",
		authorizer.CheckPermission("customers.delete"),
		okHandler)

	api.PUT("/documents/:id",
		authorizer.Authorize("documents", "update", policy.AuthorizeOptions{
			CheckOwnership: true,
			OwnerField:     "ownerId",
		}),
		resourceHandler)
	api.GET("/documents/:id",
		authorizer.AuthorizeContext("documents", "read"),
		resourceHandler)

	api.POST("/payments",
		authorizer.ConditionalAuthorize([]model.Condition{{
			Field:      "body.amount",
			Operator:   model.OpGt,
			Value:      1000,
			Permission: "payments.approveLarge",
		}}),
		okHandler)

	api.GET("/reports",
		authorizer.AuthorizeScope("reports:read"),
		okHandler)

	api.POST("/exports",
		authorizer.TimeBasedAuthorize(policy.TimeOptions{
			AllowedDays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			AllowedHours: &policy.HourRange{Start: 9, End: 17},
			Timezone:     "UTC",
		}),
		okHandler)

	admin := api.Group("/admin")
	admin.Use(authorizer.IPAuthorize(policy.IPOptions{
		Whitelist: []string{"127.0.0.1", "10.0.0.0/8", "::1"},
	}))
	admin.GET("/settings",
		authorizer.AuthorizeRoles("admin", "operator"),
		okHandler)
	admin.DELETE("/settings",
		authorizer.MFAAuthorize(policy.MFAOptions{
			Required:       true,
			AllowedMethods: []string{"totp", "webauthn"},
		}),
		okHandler)

	api.POST("/transfers",
		authorizer.RateLimitedAuthorize(policy.RateLimitOptions{
			Resource:    "transfers",
			Action:      "create",
			MaxAttempts: 5,
			Window:      time.Minute,
		}),
		okHandler)

	api.PATCH("/invoices/:id",
		authorizer.CheckAdvancedPermission(policy.AdvancedConfig{
			Permission:            "invoices:update",
			AlternativePermission: "invoices.admin",
			Conditions: []model.Condition{{
				Field:    "body.status",
				Operator: model.OpIn,
				Value:    []interface{}{"draft", "pending"},
			}},
		}),
		okHandler)

	return router
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func resourceHandler(c *gin.Context) {
	resource, _ := c.Get(middleware.ResourceKey)
	c.JSON(http.StatusOK, gin.H{"success": true, "resource": resource})
}

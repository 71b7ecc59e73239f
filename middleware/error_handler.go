// middleware/error_handler.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	aegis_errors "github.com/aegis-authz/aegis/errors"
	logger "github.com/aegis-authz/aegis/logging"
)

// ErrorHandler renders the classified errors the authorization adapters
// funnel through c.Error. Every denial gets a stable code and a
// human-readable message; internal details never reach the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if authzErr, ok := aegis_errors.AsAuthzError(err); ok {
			c.JSON(authzErr.Status(), gin.H{
				"success": false,
				"message": authzErr.Message,
				"code":    string(authzErr.Kind),
			})
			return
		}

		logger.Error("Unclassified error reached the error handler",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal server error",
			"code":    "INTERNAL_ERROR",
		})
	}
}

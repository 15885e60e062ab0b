package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/utils"
)

func RequireRole(allowed ...models.OperatorRole) gin.HandlerFunc {
	allow := map[string]struct{}{}
	for _, a := range allowed {
		s := strings.TrimSpace(strings.ToLower(string(a)))
		if s != "" {
			allow[s] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		v, ok := c.Get("role")
		role, _ := v.(string)
		role = strings.ToLower(strings.TrimSpace(role))

		if !ok || role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "forbidden",
			})
			return
		}

		if _, ok := allow[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "forbidden",
			})
			return
		}

		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(models.OperatorAdmin) }

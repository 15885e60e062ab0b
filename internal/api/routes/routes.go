package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoorelay/internal/api/handlers"
	"github.com/yoockh/yoorelay/internal/api/middleware"
)

type Deps struct {
	Admin    *handlers.AdminHandler
	Messages *handlers.MessageHandler
	WS       *handlers.WSHandler
	Metrics  http.Handler

	AdminJWTSecret string
	AdminJWTIssuer string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Ingress for the messaging adapter
	if d.Messages != nil {
		r.POST("/messages", d.Messages.Enqueue)
	}
	if d.WS != nil {
		r.GET("/ws/:user_id", d.WS.UserWS)
	}

	if d.Admin == nil {
		return
	}

	// Protected routes (JWT)
	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuth(d.AdminJWTSecret, d.AdminJWTIssuer))

	admin.GET("/stats", d.Admin.Stats)
	admin.GET("/tokens", d.Admin.Tokens)
	admin.GET("/traces/:message_id", d.Admin.Trace)
	admin.GET("/users/:user_id/traces", d.Admin.UserTraces)
	admin.GET("/users/:user_id/archive", d.Admin.UserArchive)

	destructive := admin.Group("/")
	destructive.Use(middleware.RequireAdmin())
	destructive.DELETE("/history/:user_id", d.Admin.ClearUser)
	destructive.DELETE("/history", d.Admin.ClearAll)
	destructive.POST("/tokens/reset", d.Admin.ResetTokens)
}

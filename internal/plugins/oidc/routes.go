package oidc

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/middleware"
)

// RegisterRoutes mounts the provider login endpoints under
// /api/v1/auth/oidc. Login and callback are rate-limited per IP.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/v1/auth/oidc")

	g.GET("/providers", h.Providers)
	g.GET("/:provider/login", h.Login, middleware.RateLimit(20, time.Minute))

	callbackLimit := middleware.RateLimit(20, time.Minute)
	g.GET("/:provider/callback", h.Callback, callbackLimit)
	g.POST("/:provider/callback", h.Callback, callbackLimit)
}

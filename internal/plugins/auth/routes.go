package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/middleware"
)

// RegisterRoutes sets up all auth routes under /api/v1/auth. Credential
// endpoints are rate-limited per IP to slow brute-force and credential
// stuffing: 10 login attempts per minute, 5 registrations, 30 username checks.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *Authenticator) {
	g := e.Group("/api/v1/auth")

	// Public routes -- no auth required.
	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	g.POST("/refresh", h.Refresh, middleware.RateLimit(30, time.Minute))
	g.GET("/check-username", h.CheckUsername, middleware.RateLimit(30, time.Minute))

	// Authenticated routes.
	g.POST("/logout", h.Logout, RequireAuth(authn))
	g.GET("/me", h.Me, RequireAuth(authn))
}

package apikeys

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// RegisterRoutes mounts key management under /api/v1/keys. Every route
// requires an authenticated user.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *auth.Authenticator) {
	g := e.Group("/api/v1/keys", auth.RequireAuth(authn))

	g.GET("", h.List)
	g.POST("", h.Create)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/activate", h.Activate)
	g.DELETE("/:id", h.Revoke)
}

package pluginapi

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// RegisterRoutes mounts the credential endpoints under /api/v1/plugin and
// the downstream proxy under /v1. Both accept a bearer token or an API
// key.
func RegisterRoutes(e *echo.Echo, h *Handler, proxy *Proxy, authn *auth.Authenticator) {
	requireAuth := auth.RequireAuth(authn)

	g := e.Group("/api/v1/plugin", requireAuth)
	g.GET("/key", h.Status)
	g.PUT("/key", h.Save)
	g.DELETE("/key", h.Delete)
	g.POST("/provision", h.Provision)

	e.Any("/v1/*", proxy.Handle, requireAuth)
}

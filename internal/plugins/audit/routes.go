package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// RegisterRoutes sets up the event log routes. Users only ever see their
// own events.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *auth.Authenticator) {
	e.GET("/api/v1/auth/events", h.MyEvents, auth.RequireAuth(authn))
}

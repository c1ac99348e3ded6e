package auth

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/middleware"
)

// Context keys for storing the authenticated principal in Echo context.
// Other plugins use the exported getters below.
const (
	contextKeyPrincipal = "auth_principal"
	contextKeyUserID    = "auth_user_id"
)

// RequireAuth returns middleware that authenticates the Authorization
// header with either an API key or a bearer token and injects the principal
// into the request context.
func RequireAuth(authn *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			credential := middleware.BearerToken(c)
			if credential == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			principal, err := authn.Authenticate(c.Request().Context(), credential)
			if err != nil {
				var failure *AuthFailure
				method := Method("unknown")
				if errors.As(err, &failure) {
					method = failure.Method
				}
				slog.Warn("authentication failed",
					slog.String("method", string(method)),
					slog.String("kind", apperror.TypeOf(err)),
					slog.String("ip", c.RealIP()),
					slog.String("path", c.Path()),
				)
				return err
			}

			SetPrincipal(c, principal)
			return next(c)
		}
	}
}

// --- Exported accessors for other plugins ---

// SetPrincipal stores an authenticated principal in the Echo context.
func SetPrincipal(c echo.Context, p *Principal) {
	c.Set(contextKeyPrincipal, p)
	c.Set(contextKeyUserID, p.User.ID)
}

// GetPrincipal retrieves the authenticated principal from the Echo context.
// Returns nil if the request is not authenticated (middleware not applied).
func GetPrincipal(c echo.Context) *Principal {
	p, ok := c.Get(contextKeyPrincipal).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// GetUser retrieves the authenticated user from the Echo context.
func GetUser(c echo.Context) *User {
	if p := GetPrincipal(c); p != nil {
		return p.User
	}
	return nil
}

// GetUserID retrieves the authenticated user's ID from the Echo context.
// Returns 0 if the request is not authenticated.
func GetUserID(c echo.Context) int64 {
	id, ok := c.Get(contextKeyUserID).(int64)
	if !ok {
		return 0
	}
	return id
}

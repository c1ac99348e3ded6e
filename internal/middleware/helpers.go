package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerToken returns the credential from an "Authorization: Bearer <x>"
// header, or "" if the header is missing or uses another scheme. The
// scheme is matched case-insensitively.
func BearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

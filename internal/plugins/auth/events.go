package auth

import (
	"context"

	"github.com/labstack/echo/v4"
)

// Security event actions. Each follows "resource.verb".
const (
	ActionLoginSucceeded   = "login.succeeded"
	ActionLoginFailed      = "login.failed"
	ActionLogout           = "logout"
	ActionTokenRefreshed   = "token.refreshed"
	ActionRegistered       = "account.registered"
	ActionOIDCLogin        = "oidc.login"
	ActionAPIKeyCreated    = "apikey.created"
	ActionAPIKeyRevoked    = "apikey.revoked"
	ActionPluginKeySaved   = "plugin_key.saved"
	ActionPluginKeyDeleted = "plugin_key.deleted"
)

// Event is a security-relevant action. UserID is 0 when the actor is not
// known, e.g. a failed login for an unknown username.
type Event struct {
	UserID    int64
	Action    string
	IP        string
	UserAgent string
	Details   map[string]any
}

// EventRecorder receives security events. Record must not block the
// request; implementations persist asynchronously.
type EventRecorder interface {
	Record(ctx context.Context, ev Event)
}

// NewEvent fills the request metadata of an event from the Echo context.
func NewEvent(c echo.Context, userID int64, action string, details map[string]any) Event {
	return Event{
		UserID:    userID,
		Action:    action,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   details,
	}
}

// noopRecorder is used when no recorder is wired.
type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Event) {}

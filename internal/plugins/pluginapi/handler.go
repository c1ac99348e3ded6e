package pluginapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// Handler serves the plug-in credential endpoints.
type Handler struct {
	service PluginService
	events  auth.EventRecorder
}

// NewHandler creates a new plug-in credential handler.
func NewHandler(service PluginService, events auth.EventRecorder) *Handler {
	return &Handler{service: service, events: events}
}

// Status reports whether the caller has a credential
// (GET /api/v1/plugin/key).
func (h *Handler) Status(c echo.Context) error {
	status, err := h.service.Status(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// Save stores or replaces the caller's credential
// (PUT /api/v1/plugin/key).
func (h *Handler) Save(c echo.Context) error {
	var req SaveKeyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	userID := auth.GetUserID(c)
	status, err := h.service.SaveKey(c.Request().Context(), userID, req.APIKey, req.PluginUserID)
	if err != nil {
		return err
	}
	h.record(c, userID, auth.ActionPluginKeySaved, nil)
	return c.JSON(http.StatusOK, status)
}

// Delete removes the caller's credential (DELETE /api/v1/plugin/key).
func (h *Handler) Delete(c echo.Context) error {
	userID := auth.GetUserID(c)
	if err := h.service.DeleteKey(c.Request().Context(), userID); err != nil {
		return err
	}
	h.record(c, userID, auth.ActionPluginKeyDeleted, nil)
	return c.NoContent(http.StatusNoContent)
}

// Provision creates a downstream account for the caller
// (POST /api/v1/plugin/provision).
func (h *Handler) Provision(c echo.Context) error {
	var req ProvisionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user := auth.GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}
	status, err := h.service.Provision(c.Request().Context(), user.ID, user.Username, req.PreferShared)
	if err != nil {
		return err
	}
	h.record(c, user.ID, auth.ActionPluginKeySaved, map[string]any{"provisioned": true})
	return c.JSON(http.StatusCreated, status)
}

func (h *Handler) record(c echo.Context, userID int64, action string, details map[string]any) {
	if h.events == nil {
		return
	}
	h.events.Record(c.Request().Context(), auth.NewEvent(c, userID, action, details))
}

package apikeys

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// Handler serves the key management endpoints.
type Handler struct {
	service KeyService
	events  auth.EventRecorder
}

// NewHandler creates a new API key handler.
func NewHandler(service KeyService, events auth.EventRecorder) *Handler {
	return &Handler{service: service, events: events}
}

// List returns the caller's keys (GET /api/v1/keys).
func (h *Handler) List(c echo.Context) error {
	keys, err := h.service.List(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keys)
}

// Create issues a new key (POST /api/v1/keys).
func (h *Handler) Create(c echo.Context) error {
	var req CreateKeyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	userID := auth.GetUserID(c)
	result, err := h.service.Create(ctx, userID, req.Name)
	if err != nil {
		return err
	}
	h.record(c, userID, auth.ActionAPIKeyCreated, result.Key)
	return c.JSON(http.StatusCreated, result)
}

// Deactivate disables a key (POST /api/v1/keys/:id/deactivate).
func (h *Handler) Deactivate(c echo.Context) error {
	id, err := keyID(c)
	if err != nil {
		return err
	}
	if err := h.service.Deactivate(c.Request().Context(), auth.GetUserID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Activate re-enables a key (POST /api/v1/keys/:id/activate).
func (h *Handler) Activate(c echo.Context) error {
	id, err := keyID(c)
	if err != nil {
		return err
	}
	if err := h.service.Activate(c.Request().Context(), auth.GetUserID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Revoke deletes a key (DELETE /api/v1/keys/:id).
func (h *Handler) Revoke(c echo.Context) error {
	id, err := keyID(c)
	if err != nil {
		return err
	}
	userID := auth.GetUserID(c)
	if err := h.service.Revoke(c.Request().Context(), userID, id); err != nil {
		return err
	}
	h.record(c, userID, auth.ActionAPIKeyRevoked, &APIKey{ID: id})
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) record(c echo.Context, userID int64, action string, key *APIKey) {
	if h.events == nil {
		return
	}
	details := map[string]any{"key_id": key.ID}
	if key.KeyPrefix != "" {
		details["prefix"] = key.KeyPrefix
	}
	h.events.Record(c.Request().Context(), auth.NewEvent(c, userID, action, details))
}

func keyID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid key id")
	}
	return id, nil
}

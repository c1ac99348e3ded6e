package oidc

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// Handler serves the provider login endpoints.
type Handler struct {
	service OIDCService
	events  auth.EventRecorder
}

// NewHandler creates a new OIDC handler. events may be nil.
func NewHandler(service OIDCService, events auth.EventRecorder) *Handler {
	return &Handler{service: service, events: events}
}

// Providers lists the enabled providers
// (GET /api/v1/auth/oidc/providers).
func (h *Handler) Providers(c echo.Context) error {
	return c.JSON(http.StatusOK, ProvidersResponse{
		Providers: h.service.Providers(),
		Metadata:  h.service.Metadata(),
	})
}

// Login starts an authorization attempt
// (GET /api/v1/auth/oidc/:provider/login).
func (h *Handler) Login(c echo.Context) error {
	resp, err := h.service.Initiate(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Callback completes an authorization attempt
// (GET or POST /api/v1/auth/oidc/:provider/callback).
func (h *Handler) Callback(c echo.Context) error {
	var req CallbackRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Code == "" || req.State == "" {
		return apperror.NewValidation("code and state are required")
	}

	provider := c.Param("provider")
	ctx := c.Request().Context()
	result, err := h.service.Callback(ctx, provider, req.Code, req.State)
	if err != nil {
		h.record(c, 0, auth.ActionLoginFailed, map[string]any{
			"provider": provider,
			"reason":   apperror.TypeOf(err),
		})
		return err
	}

	h.record(c, result.User.ID, auth.ActionOIDCLogin, map[string]any{"provider": provider})
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) record(c echo.Context, userID int64, action string, details map[string]any) {
	if h.events == nil {
		return
	}
	h.events.Record(c.Request().Context(), auth.NewEvent(c, userID, action, details))
}

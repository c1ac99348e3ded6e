package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// Handler handles HTTP requests for the event log. Handlers are thin:
// bind request, call service, write JSON.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// MyEvents returns the caller's own event history
// (GET /api/v1/auth/events?page=N).
func (h *Handler) MyEvents(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == 0 {
		return apperror.NewMissingContext()
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	result, err := h.service.ListForUser(c.Request().Context(), userID, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

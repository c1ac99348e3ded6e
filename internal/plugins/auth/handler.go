package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// Handler handles HTTP requests for local authentication. Handlers are
// thin: they bind the request, call the service, and write JSON. No
// business logic lives here.
type Handler struct {
	service AuthService
	events  EventRecorder
}

// NewHandler creates a new auth handler. events may be nil.
func NewHandler(service AuthService, events EventRecorder) *Handler {
	if events == nil {
		events = noopRecorder{}
	}
	return &Handler{service: service, events: events}
}

// Login checks a username and password and returns a token pair
// (POST /api/v1/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return apperror.NewValidation("username and password are required")
	}

	ctx := c.Request().Context()
	result, err := h.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		if kind := apperror.TypeOf(err); kind == apperror.TypeInvalidCredentials || kind == apperror.TypeAccountDisabled {
			h.events.Record(ctx, NewEvent(c, 0, ActionLoginFailed, map[string]any{
				"username": req.Username,
				"reason":   kind,
			}))
		}
		return err
	}

	h.events.Record(ctx, NewEvent(c, result.User.ID, ActionLoginSucceeded, map[string]any{"method": "password"}))
	return c.JSON(http.StatusOK, result)
}

// Register creates a local account and logs it in
// (POST /api/v1/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	user, err := h.service.Register(ctx, RegisterInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	h.events.Record(ctx, NewEvent(c, user.ID, ActionRegistered, nil))

	result, err := h.service.CompleteLogin(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Refresh exchanges a refresh token for a new pair
// (POST /api/v1/auth/refresh).
func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.RefreshToken == "" {
		return apperror.NewValidation("refresh_token is required")
	}

	ctx := c.Request().Context()
	result, err := h.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	h.events.Record(ctx, NewEvent(c, result.User.ID, ActionTokenRefreshed, nil))
	return c.JSON(http.StatusOK, result)
}

// Logout ends the session and revokes the presented token
// (POST /api/v1/auth/logout). API-key callers only lose their session.
func (h *Handler) Logout(c echo.Context) error {
	p := GetPrincipal(c)
	if p == nil {
		return apperror.NewMissingContext()
	}

	ctx := c.Request().Context()
	if p.Method == MethodBearer {
		if err := h.service.Logout(ctx, p.User.ID, p.Token); err != nil {
			return err
		}
	} else if _, err := h.service.EndSession(ctx, p.User.ID); err != nil {
		return err
	}

	h.events.Record(ctx, NewEvent(c, p.User.ID, ActionLogout, map[string]any{"method": string(p.Method)}))
	return c.JSON(http.StatusOK, LogoutResponse{Success: true, Message: "logged out"})
}

// Me returns the authenticated user (GET /api/v1/auth/me).
func (h *Handler) Me(c echo.Context) error {
	user := GetUser(c)
	if user == nil {
		return apperror.NewMissingContext()
	}
	return c.JSON(http.StatusOK, user)
}

// CheckUsername reports whether a username is taken
// (GET /api/v1/auth/check-username?username=...).
func (h *Handler) CheckUsername(c echo.Context) error {
	username := strings.TrimSpace(c.QueryParam("username"))
	if username == "" {
		return apperror.NewValidation("username is required")
	}

	exists, err := h.service.UsernameExists(c.Request().Context(), username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UsernameCheckResponse{Exists: exists, Username: username})
}

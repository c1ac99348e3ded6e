// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together all plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/config"
	"github.com/keyxmakerx/portcullis/internal/middleware"
	"github.com/keyxmakerx/portcullis/internal/plugins/audit"
	"github.com/keyxmakerx/portcullis/internal/plugins/oidc"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client shared for sessions, OAuth state and the
	// token blacklist.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Refresher renews provider tokens in the background. Set by
	// RegisterRoutes; main runs it.
	Refresher *oidc.Refresher

	// Events writes auth events asynchronously. Set by RegisterRoutes;
	// main drains it on shutdown.
	Events *audit.Recorder
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Rate limits and auth events
	// are keyed on it.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, no-store, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the login page and chat front end may live on another origin.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))
}

// errorHandler is the custom Echo error handler. Domain errors are mapped
// through apperror.Public; their internal cause and diagnostics are logged
// and never written to the client. Every response is JSON.
func errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code, body := apperror.Public(appErr)
		if appErr.Internal != nil || len(appErr.Details) > 0 || code >= http.StatusInternalServerError {
			attrs := []any{
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.String("path", c.Request().URL.Path),
			}
			if appErr.Internal != nil {
				attrs = append(attrs, slog.Any("internal", appErr.Internal))
			}
			if len(appErr.Details) > 0 {
				attrs = append(attrs, slog.Any("details", appErr.Details))
			}
			if code >= http.StatusInternalServerError {
				slog.Error("request failed", attrs...)
			} else {
				slog.Warn("request rejected", attrs...)
			}
		}
		_ = c.JSON(code, body)
		return
	}

	// Echo's built-in HTTP errors (404 from the router, 405, bind errors).
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		message := defaultErrorMessage(echoErr.Code)
		if msg, ok := echoErr.Message.(string); ok && msg != "" {
			message = msg
		}
		_ = c.JSON(echoErr.Code, apperror.Response{Type: httpErrorType(echoErr.Code), Message: message})
		return
	}

	// Truly unexpected error -- log it.
	slog.Error("unhandled error",
		slog.Any("error", err),
		slog.String("path", c.Request().URL.Path),
	)
	code, body := apperror.Public(err)
	_ = c.JSON(code, body)
}

// httpErrorType maps a router status code onto the error kinds clients
// already branch on.
func httpErrorType(code int) string {
	switch code {
	case http.StatusNotFound:
		return apperror.TypeNotFound
	case http.StatusUnauthorized:
		return apperror.TypeUnauthorized
	case http.StatusForbidden:
		return apperror.TypeForbidden
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if code >= http.StatusInternalServerError {
		return apperror.TypeInternal
	}
	return apperror.TypeBadRequest
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "Authentication is required."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The requested resource does not exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Portcullis server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/plugins/apikeys"
	"github.com/keyxmakerx/portcullis/internal/plugins/audit"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
	"github.com/keyxmakerx/portcullis/internal/plugins/oidc"
	"github.com/keyxmakerx/portcullis/internal/plugins/pluginapi"
	"github.com/keyxmakerx/portcullis/internal/secretbox"
	"github.com/keyxmakerx/portcullis/internal/statestore"
	"github.com/keyxmakerx/portcullis/internal/token"
)

// healthTimeout bounds each dependency check in /healthz.
const healthTimeout = 2 * time.Second

// providerClientTimeout bounds calls to identity providers and the
// downstream provisioning endpoint.
const providerClientTimeout = 30 * time.Second

// RegisterRoutes builds every plugin and registers its routes. This is the
// single place where all routes are aggregated. When a new plugin is
// added, its routes are registered here.
func (a *App) RegisterRoutes() error {
	e := a.Echo
	cfg := a.Config

	// --- Shared infrastructure ---
	states := statestore.New(a.Redis)
	codec, err := token.NewCodec(token.Config{
		Secret:        cfg.Auth.SecretKey,
		RefreshSecret: cfg.Auth.RefreshSecretKey,
		Algorithm:     cfg.Auth.Algorithm,
		Issuer:        cfg.Auth.Issuer,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}
	outbound := &http.Client{Timeout: providerClientTimeout}

	// --- Auth events ---
	auditService := audit.NewAuditService(audit.NewAuditRepository(a.DB))
	a.Events = audit.NewRecorder(auditService)

	// --- Core auth + API keys ---
	authService := auth.NewAuthService(
		auth.NewUserRepository(a.DB),
		states,
		codec,
		cfg.Auth.SessionTTL,
		cfg.Auth.AllowNewAccounts,
	)
	keyService := apikeys.NewKeyService(apikeys.NewKeyRepository(a.DB))
	authn := auth.NewAuthenticator(authService, keyService)

	auth.RegisterRoutes(e, auth.NewHandler(authService, a.Events), authn)
	apikeys.RegisterRoutes(e, apikeys.NewHandler(keyService, a.Events), authn)
	audit.RegisterRoutes(e, audit.NewHandler(auditService), authn)

	// --- External identity providers ---
	oidcService := oidc.NewOIDCService(
		oidc.NewRegistry(cfg.Providers),
		states,
		oidc.NewTokenRepository(a.DB),
		authService,
		outbound,
	)
	oidc.RegisterRoutes(e, oidc.NewHandler(oidcService, a.Events))
	a.Refresher = oidc.NewRefresher(oidcService, cfg.Auth.OAuthRefreshInterval)

	// --- Downstream plug-in API ---
	box, err := secretbox.New(cfg.PluginAPI.EncryptionKey)
	if err != nil {
		return fmt.Errorf("creating credential cipher: %w", err)
	}
	target, err := url.Parse(cfg.PluginAPI.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing plug-in API base URL: %w", err)
	}
	pluginService := pluginapi.NewPluginService(
		pluginapi.NewCredentialRepository(a.DB),
		box,
		pluginapi.ServiceConfig{
			BaseURL:  cfg.PluginAPI.BaseURL,
			AdminKey: cfg.PluginAPI.AdminKey,
			Client:   outbound,
		},
	)
	proxy := pluginapi.NewProxy(pluginService, target, cfg.PluginAPI.Timeout, nil)
	pluginapi.RegisterRoutes(e, pluginapi.NewHandler(pluginService, a.Events), proxy, authn)

	// Health check endpoint for container health monitoring.
	e.GET("/healthz", healthHandler(map[string]func(context.Context) error{
		"mariadb": a.DB.PingContext,
		"redis":   states.Ping,
	}))

	return nil
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthHandler reports 200 when every dependency answers and 503
// otherwise, naming the ones that failed.
func healthHandler(checks map[string]func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK

		for name, check := range checks {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		return c.JSON(code, resp)
	}
}

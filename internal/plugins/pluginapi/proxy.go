package pluginapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

type credentialKey struct{}

// Proxy forwards authenticated requests to the plug-in API, replacing the
// caller's credentials with their stored plug-in key.
type Proxy struct {
	service PluginService
	rp      *httputil.ReverseProxy
	timeout time.Duration
}

// NewProxy creates a proxy to target. timeout bounds each forwarded
// request, streaming responses included.
func NewProxy(service PluginService, target *url.URL, timeout time.Duration, transport http.RoundTripper) *Proxy {
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			r.Out.Header.Del("Cookie")
			r.Out.Header.Del("X-Api-Key")
			key, _ := r.In.Context().Value(credentialKey{}).(string)
			r.Out.Header.Set("Authorization", "Bearer "+key)
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("plugin API proxy error",
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
			status := http.StatusBadGateway
			if r.Context().Err() == context.DeadlineExceeded {
				status = http.StatusGatewayTimeout
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(apperror.Response{
				Type:    "upstream_error",
				Message: http.StatusText(status),
			})
		},
	}
	return &Proxy{service: service, rp: rp, timeout: timeout}
}

// Handle is the catch-all handler for ANY /v1/*.
func (p *Proxy) Handle(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == 0 {
		return apperror.NewMissingContext()
	}

	ctx := c.Request().Context()
	key, err := p.service.Credential(ctx, userID)
	if err != nil {
		return err
	}
	p.service.Touch(ctx, userID)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, credentialKey{}, key)

	// The upstream sets its own caching headers.
	h := c.Response().Header()
	h.Del("Cache-Control")
	h.Del("Pragma")

	p.rp.ServeHTTP(c.Response(), c.Request().WithContext(ctx))
	return nil
}

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/statestore"
)

// newStateStore returns a miniredis-backed state store.
func newStateStore(t *testing.T) (*statestore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return statestore.New(rdb), mr
}

// testProvider builds a provider config pointing at srv.
func testProvider(id ProviderType, srv *httptest.Server, basicAuth bool) *ProviderConfig {
	base := "http://provider.invalid"
	if srv != nil {
		base = srv.URL
	}
	fields := variants[0].fields
	if id == ProviderGitHub {
		fields = variants[1].fields
	}
	return &ProviderConfig{
		ID:                    id,
		Name:                  string(id),
		AuthorizationEndpoint: base + "/authorize",
		TokenEndpoint:         base + "/token",
		UserInfoEndpoint:      base + "/user",
		ClientID:              "client-id",
		ClientSecret:          "client-secret",
		RedirectURI:           "https://app.example.com/callback",
		Scopes:                []string{"openid", "profile"},
		UseBasicAuth:          basicAuth,
		ExtraAuthorizeParams:  map[string]string{},
		ExtraTokenParams:      map[string]string{},
		TokenHeaders:          map[string]string{},
		UserInfoHeaders:       map[string]string{},
		Fields:                fields,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFlow_GenerateState(t *testing.T) {
	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil)

	a, err := f.GenerateState()
	if err != nil {
		t.Fatalf("GenerateState: %v", err)
	}
	b, _ := f.GenerateState()
	if a == b {
		t.Fatal("states must be unique")
	}
	// 32 bytes, unpadded base64url.
	if len(a) != 43 || strings.ContainsAny(a, "+/=") {
		t.Errorf("state %q is not 43 url-safe characters", a)
	}
}

func TestFlow_StateIsSingleUse(t *testing.T) {
	store, mr := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil)
	ctx := context.Background()

	if err := f.StoreState(ctx, "abc", map[string]any{"return_to": "/home"}, 0); err != nil {
		t.Fatalf("StoreState: %v", err)
	}
	key := "oidc:linux_do:state:abc"
	if ttl := mr.TTL(key); ttl != DefaultStateTTL {
		t.Errorf("state TTL = %v, want %v", ttl, DefaultStateTTL)
	}

	payload, err := f.VerifyState(ctx, "abc")
	if err != nil {
		t.Fatalf("VerifyState: %v", err)
	}
	if payload["return_to"] != "/home" {
		t.Errorf("payload = %v", payload)
	}

	_, err = f.VerifyState(ctx, "abc")
	assertAppError(t, err, apperror.TypeInvalidOAuthState)
}

func TestFlow_VerifyStateFailures(t *testing.T) {
	store, mr := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil)
	ctx := context.Background()

	_, err := f.VerifyState(ctx, "")
	assertAppError(t, err, apperror.TypeInvalidOAuthState)

	_, err = f.VerifyState(ctx, "never-issued")
	assertAppError(t, err, apperror.TypeInvalidOAuthState)

	_ = f.StoreState(ctx, "short", nil, time.Second)
	mr.FastForward(2 * time.Second)
	_, err = f.VerifyState(ctx, "short")
	assertAppError(t, err, apperror.TypeInvalidOAuthState)

	// A state stored for one provider is not valid for another.
	_ = f.StoreState(ctx, "cross", nil, 0)
	other := NewFlow(testProvider(ProviderGitHub, nil, false), store, nil)
	_, err = other.VerifyState(ctx, "cross")
	assertAppError(t, err, apperror.TypeInvalidOAuthState)
}

func TestFlow_VerifyStateStoreDown(t *testing.T) {
	store, mr := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil)
	mr.Close()

	_, err := f.VerifyState(context.Background(), "abc")
	assertAppError(t, err, apperror.TypeUnavailable)
}

func TestFlow_AuthorizationURL(t *testing.T) {
	store, _ := newStateStore(t)
	cfg := testProvider(ProviderLinuxDo, nil, true)
	cfg.ExtraAuthorizeParams["prompt"] = "consent"
	f := NewFlow(cfg, store, nil)

	raw := f.AuthorizationURL("state-123")
	if raw != f.AuthorizationURL("state-123") {
		t.Fatal("authorization URL must be deterministic")
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme+"://"+u.Host+u.Path != cfg.AuthorizationEndpoint {
		t.Errorf("endpoint = %s", raw)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":     "client-id",
		"response_type": "code",
		"redirect_uri":  "https://app.example.com/callback",
		"scope":         "openid profile",
		"state":         "state-123",
		"prompt":        "consent",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestFlow_ExchangeCode_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "the-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		if r.PostForm.Get("client_secret") != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "secret_in_body"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    7200,
			"scope":         "openid profile",
		})
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, srv.Client())

	set, err := f.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if set.AccessToken != "at-1" || set.RefreshToken != "rt-1" || set.Scope != "openid profile" {
		t.Errorf("token set = %+v", set)
	}
	if set.ExpiresIn < 7190 || set.ExpiresIn > 7200 {
		t.Errorf("expires_in = %d, want ~7200", set.ExpiresIn)
	}
}

func TestFlow_ExchangeCode_BodyCredentialsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected_basic_auth"})
			return
		}
		if r.Header.Get("Accept") != "application/json" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_accept"})
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("client_id") != "client-id" || r.PostForm.Get("client_secret") != "client-secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "gho_x", "token_type": "bearer"})
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	cfg := testProvider(ProviderGitHub, srv, false)
	cfg.TokenHeaders["Accept"] = "application/json"
	f := NewFlow(cfg, store, srv.Client())

	set, err := f.ExchangeCode(context.Background(), "code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if set.AccessToken != "gho_x" || set.ExpiresIn != 0 {
		t.Errorf("token set = %+v", set)
	}
}

func TestFlow_ExchangeCode_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, srv.Client())

	_, err := f.ExchangeCode(context.Background(), "stale-code")
	appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
	if appErr.Details["error"] != "invalid_grant" {
		t.Errorf("details error = %v, want invalid_grant", appErr.Details["error"])
	}
	if !strings.Contains(appErr.Details["response"].(string), "invalid_grant") {
		t.Errorf("details response = %v", appErr.Details["response"])
	}
	if appErr.Details["status_code"] != http.StatusBadRequest {
		t.Errorf("status_code = %v", appErr.Details["status_code"])
	}
	if appErr.Details["reason"] != "rejected" {
		t.Errorf("reason = %v, want rejected", appErr.Details["reason"])
	}
}

func TestFlow_ExchangeCode_ErrorInSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderGitHub, srv, false), store, srv.Client())

	_, err := f.ExchangeCode(context.Background(), "bad")
	appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
	if appErr.Details["error"] != "bad_verification_code" {
		t.Errorf("details = %v", appErr.Details)
	}
}

func TestFlow_ExchangeCode_NetworkFailures(t *testing.T) {
	store, _ := newStateStore(t)

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		cfg := testProvider(ProviderLinuxDo, srv, true)
		srv.Close()

		_, err := NewFlow(cfg, store, nil).ExchangeCode(context.Background(), "code")
		appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
		if appErr.Details["reason"] != "transport" {
			t.Errorf("reason = %v, want transport", appErr.Details["reason"])
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		client := &http.Client{Timeout: 50 * time.Millisecond}
		_, err := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, client).
			ExchangeCode(context.Background(), "code")
		appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
		if appErr.Details["reason"] != "timeout" {
			t.Errorf("reason = %v, want timeout", appErr.Details["reason"])
		}
	})

	t.Run("canceled", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, srv.Client()).ExchangeCode(ctx, "code")
		appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
		if appErr.Details["reason"] != "canceled" {
			t.Errorf("reason = %v, want canceled", appErr.Details["reason"])
		}
	})

	malformed := map[string]http.HandlerFunc{
		"missing access token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"token_type": "bearer"})
		},
		"invalid json": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": `))
		},
	}
	for name, handler := range malformed {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, srv.Client()).
				ExchangeCode(context.Background(), "code")
			appErr := assertAppError(t, err, apperror.TypeOAuthTokenExchange)
			if appErr.Details["reason"] != "malformed" {
				t.Errorf("reason = %v, want malformed", appErr.Details["reason"])
			}
			if cause, _ := appErr.Details["cause"].(string); cause == "" {
				t.Error("malformed response should carry the underlying error text")
			}
		})
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"dial", &url.Error{Op: "Post", URL: "http://idp", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, "transport"},
		{"truncated body", io.ErrUnexpectedEOF, "transport"},
		{"decode", errors.New("oauth2: server response missing access_token"), "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(tt.err); got != tt.want {
				t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFlow_ExchangeCode_EmptyCode(t *testing.T) {
	store, _ := newStateStore(t)
	_, err := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil).ExchangeCode(context.Background(), "")
	assertAppError(t, err, apperror.TypeValidation)
}

func TestFlow_UserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_x" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		if r.Header.Get("Accept") != "application/vnd.github.v3+json" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "wrong accept"})
			return
		}
		_, _ = w.Write([]byte(`{"id": 9007199254740993, "login": "octocat", "avatar_url": "https://avatars/1"}`))
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	cfg := testProvider(ProviderGitHub, srv, false)
	cfg.UserInfoHeaders["Accept"] = "application/vnd.github.v3+json"
	f := NewFlow(cfg, store, srv.Client())

	ident, err := f.UserInfo(context.Background(), "gho_x")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	// Large ids survive because numbers are decoded as json.Number.
	if ident.Subject != "9007199254740993" {
		t.Errorf("subject = %q", ident.Subject)
	}
	if ident.Username != "octocat" || ident.Picture != "https://avatars/1" || ident.Provider != ProviderGitHub {
		t.Errorf("identity = %+v", ident)
	}

	_, err = f.UserInfo(context.Background(), "wrong")
	appErr := assertAppError(t, err, apperror.TypeOAuthUserInfo)
	if appErr.Details["status_code"] != http.StatusUnauthorized {
		t.Errorf("status_code = %v", appErr.Details["status_code"])
	}
}

func TestFlow_UserInfoMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":    `<html>oops</html>`,
		"not object":  `[1,2,3]`,
		"no subject":  `{"login": "ghost"}`,
		"null object": `null`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			store, _ := newStateStore(t)
			_, err := NewFlow(testProvider(ProviderGitHub, srv, false), store, srv.Client()).
				UserInfo(context.Background(), "tok")
			assertAppError(t, err, apperror.TypeOAuthUserInfo)
		})
	}
}

func TestFlow_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-old" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "at-new", "token_type": "bearer", "expires_in": 600})
	}))
	defer srv.Close()

	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, srv, true), store, srv.Client())

	set, err := f.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if set.AccessToken != "at-new" {
		t.Errorf("access token = %q", set.AccessToken)
	}
	if set.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, want the previous one kept", set.RefreshToken)
	}

	_, err = f.Refresh(context.Background(), "rt-revoked")
	assertAppError(t, err, apperror.TypeOAuthTokenExchange)

	_, err = f.Refresh(context.Background(), "")
	assertAppError(t, err, apperror.TypeOAuthTokenExchange)
}

func TestFlow_ExpiryHelpers(t *testing.T) {
	store, _ := newStateStore(t)
	f := NewFlow(testProvider(ProviderLinuxDo, nil, true), store, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	if got := f.CalculateExpiry(0); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("CalculateExpiry(0) = %v, want one hour later", got)
	}
	if got := f.CalculateExpiry(120); !got.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("CalculateExpiry(120) = %v", got)
	}

	if !f.ShouldRefresh(now.Add(4 * time.Minute)) {
		t.Error("token expiring in 4 minutes should refresh")
	}
	if !f.ShouldRefresh(now.Add(-time.Minute)) {
		t.Error("expired token should refresh")
	}
	if f.ShouldRefresh(now.Add(time.Hour)) {
		t.Error("token expiring in an hour should not refresh")
	}
}

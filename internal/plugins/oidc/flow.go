package oidc

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/statestore"
)

const (
	// DefaultStateTTL is how long an authorization attempt may take
	// between initiate and callback.
	DefaultStateTTL = 600 * time.Second

	// requestTimeout bounds every call to a provider endpoint.
	requestTimeout = 30 * time.Second

	// defaultTokenLifetime applies when a provider omits expires_in.
	defaultTokenLifetime = 3600 * time.Second

	// RefreshWindow is how close to expiry a provider token must be before
	// it is refreshed.
	RefreshWindow = 5 * time.Minute

	stateBytes      = 32
	maxResponseSize = 1 << 20
)

// StateStore holds single-use CSRF state values. TakeState must read and
// delete atomically.
type StateStore interface {
	PutState(ctx context.Context, key string, payload map[string]any, ttl time.Duration) error
	TakeState(ctx context.Context, key string) (map[string]any, error)
}

// Flow runs the authorization-code flow against one provider. It holds no
// per-attempt state; everything an attempt needs lives in the state store.
type Flow struct {
	cfg         *ProviderConfig
	oauth       *oauth2.Config
	states      StateStore
	client      *http.Client
	tokenClient *http.Client
	now         func() time.Time
}

// NewFlow creates a flow engine for cfg. A nil client gets a default one
// with the provider request timeout.
func NewFlow(cfg *ProviderConfig, states StateStore, client *http.Client) *Flow {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	style := oauth2.AuthStyleInParams
	if cfg.UseBasicAuth {
		style = oauth2.AuthStyleInHeader
	}

	tokenClient := *client
	tokenClient.Transport = &headerTransport{base: client.Transport, headers: cfg.TokenHeaders}

	return &Flow{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizationEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: style,
			},
		},
		states:      states,
		client:      client,
		tokenClient: &tokenClient,
		now:         time.Now,
	}
}

// Provider returns the configuration this flow runs against.
func (f *Flow) Provider() *ProviderConfig {
	return f.cfg
}

// GenerateState returns a fresh URL-safe state value carrying 256 bits of
// randomness.
func (f *Flow) GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (f *Flow) stateKey(state string) string {
	return fmt.Sprintf("oidc:%s:state:%s", f.cfg.ID, state)
}

// StoreState records state as pending for ttl (DefaultStateTTL when ttl
// is zero). payload may be nil.
func (f *Flow) StoreState(ctx context.Context, state string, payload map[string]any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if err := f.states.PutState(ctx, f.stateKey(state), payload, ttl); err != nil {
		return apperror.NewUnavailable(fmt.Errorf("storing oauth state: %w", err))
	}
	return nil
}

// VerifyState consumes state and returns its payload. Unknown, expired and
// already used values all fail with InvalidOAuthState. A store outage
// fails the attempt.
func (f *Flow) VerifyState(ctx context.Context, state string) (map[string]any, error) {
	if state == "" {
		return nil, apperror.NewInvalidOAuthState().WithDetail("provider", string(f.cfg.ID))
	}
	payload, err := f.states.TakeState(ctx, f.stateKey(state))
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, apperror.NewInvalidOAuthState().WithDetail("provider", string(f.cfg.ID))
	}
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("consuming oauth state: %w", err))
	}
	return payload, nil
}

// AuthorizationURL builds the provider redirect for state. The result
// depends only on the configuration and state.
func (f *Flow) AuthorizationURL(state string) string {
	return f.oauth.AuthCodeURL(state, paramOptions(f.cfg.ExtraAuthorizeParams)...)
}

// ExchangeCode trades an authorization code for provider tokens.
func (f *Flow) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	if code == "" {
		return nil, apperror.NewValidation("authorization code is required")
	}

	ctx, cancel := f.tokenContext(ctx)
	defer cancel()

	tok, err := f.oauth.Exchange(ctx, code, paramOptions(f.cfg.ExtraTokenParams)...)
	if err != nil {
		return nil, f.tokenError("token exchange failed", err)
	}
	return f.tokenSet(tok, ""), nil
}

// Refresh obtains a new access token. When the provider does not rotate
// the refresh token, the old one is kept.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, apperror.NewOAuthTokenExchange("no refresh token available", nil).
			WithDetail("provider", string(f.cfg.ID))
	}

	ctx, cancel := f.tokenContext(ctx)
	defer cancel()

	tok, err := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, f.tokenError("token refresh failed", err)
	}
	return f.tokenSet(tok, refreshToken), nil
}

// UserInfo fetches the provider's user-info document with accessToken and
// normalizes it.
func (f *Flow) UserInfo(ctx context.Context, accessToken string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.UserInfoEndpoint, nil)
	if err != nil {
		return nil, apperror.NewOAuthUserInfo("user info request failed", err).
			WithDetail("provider", string(f.cfg.ID))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	for k, v := range f.cfg.UserInfoHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperror.NewOAuthUserInfo("user info request failed", err).
			WithDetail("provider", string(f.cfg.ID)).
			WithDetail("reason", failureReason(err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperror.NewOAuthUserInfo("reading user info failed", err).
			WithDetail("provider", string(f.cfg.ID)).
			WithDetail("reason", failureReason(err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.NewOAuthUserInfo("user info request was rejected", nil).
			WithDetail("provider", string(f.cfg.ID)).
			WithDetail("reason", "rejected").
			WithDetail("status_code", resp.StatusCode).
			WithDetail("response", string(body))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		if err == nil {
			err = errors.New("user info is not a JSON object")
		}
		return nil, apperror.NewOAuthUserInfo("user info response is malformed", err).
			WithDetail("provider", string(f.cfg.ID)).
			WithDetail("response", string(body))
	}

	ident, err := normalize(f.cfg, raw)
	if err != nil {
		return nil, apperror.NewOAuthUserInfo("user info response is malformed", err).
			WithDetail("provider", string(f.cfg.ID))
	}
	return ident, nil
}

// CalculateExpiry turns expires_in seconds into an absolute time,
// defaulting to one hour when the provider did not say.
func (f *Flow) CalculateExpiry(expiresIn int64) time.Time {
	lifetime := defaultTokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}
	return f.now().UTC().Add(lifetime)
}

// ShouldRefresh reports whether a token expiring at expiresAt is inside
// the refresh window.
func (f *Flow) ShouldRefresh(expiresAt time.Time) bool {
	return expiresAt.Sub(f.now()) <= RefreshWindow
}

// tokenContext bounds a token endpoint call and routes it through the
// header-injecting client.
func (f *Flow) tokenContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	return context.WithValue(ctx, oauth2.HTTPClient, f.tokenClient), cancel
}

func (f *Flow) tokenSet(tok *oauth2.Token, previousRefresh string) *TokenSet {
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if set.TokenType == "" {
		set.TokenType = "bearer"
	}
	if set.RefreshToken == "" {
		set.RefreshToken = previousRefresh
	}
	if set.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		set.ExpiresIn = int64(tok.Expiry.Sub(f.now()).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}

// tokenError wraps a token endpoint failure, separating a provider
// rejection from a network failure.
func (f *Flow) tokenError(message string, err error) error {
	appErr := apperror.NewOAuthTokenExchange(message, err).WithDetail("provider", string(f.cfg.ID))

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		appErr.WithDetail("reason", "rejected").WithDetail("response", string(re.Body))
		if re.Response != nil {
			appErr.WithDetail("status_code", re.Response.StatusCode)
		}
		if re.ErrorCode != "" {
			appErr.WithDetail("error", re.ErrorCode)
		}
		if re.ErrorDescription != "" {
			appErr.WithDetail("error_description", re.ErrorDescription)
		}
	} else {
		appErr.WithDetail("reason", failureReason(err)).WithDetail("cause", err.Error())
	}

	slog.Warn("provider token request failed",
		slog.String("provider", string(f.cfg.ID)),
		slog.Any("details", appErr.Details),
		slog.Any("error", err),
	)
	return appErr
}

// failureReason classifies a failed provider call. Only errors raised by
// the HTTP client or the network count as transport; anything else means
// the provider answered with something unusable.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "transport"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "transport"
	}
	return "malformed"
}

func paramOptions(params map[string]string) []oauth2.AuthCodeOption {
	opts := make([]oauth2.AuthCodeOption, 0, len(params))
	for k, v := range params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return opts
}

// headerTransport adds static provider headers to token requests.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if len(t.headers) == 0 {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return base.RoundTrip(req)
}

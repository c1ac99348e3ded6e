package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

const (
	// refreshBatchSize caps how many due tokens one refresher pass handles.
	refreshBatchSize = 100

	// A failed background refresh holds the record back for
	// refreshBackoffBase, doubling per consecutive failure up to
	// refreshBackoffMax.
	refreshBackoffBase = time.Minute
	refreshBackoffMax  = 6 * time.Hour
)

// AccountService is the part of the auth service an OIDC login needs.
// auth.AuthService satisfies it.
type AccountService interface {
	UpsertExternalUser(ctx context.Context, ident auth.ExternalIdentity) (*auth.User, error)
	CompleteLogin(ctx context.Context, user *auth.User) (*auth.LoginResult, error)
}

// OIDCService orchestrates provider logins and keeps provider tokens fresh.
type OIDCService interface {
	Providers() []ProviderInfo
	Metadata() []ProviderMetadata
	Initiate(ctx context.Context, provider string) (*InitiateResponse, error)
	Callback(ctx context.Context, provider, code, state string) (*auth.LoginResult, error)

	ShouldRefresh(ctx context.Context, userID int64) (bool, error)
	RefreshUserToken(ctx context.Context, userID int64) (*TokenRecord, error)
	RefreshDue(ctx context.Context) (int, error)
}

type oidcService struct {
	registry *Registry
	states   StateStore
	tokens   TokenRepository
	accounts AccountService
	client   *http.Client
	group    singleflight.Group
	now      func() time.Time
}

// NewOIDCService creates the OIDC service. client is used for every
// provider call; nil selects a default with a 30s timeout.
func NewOIDCService(registry *Registry, states StateStore, tokens TokenRepository, accounts AccountService, client *http.Client) OIDCService {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &oidcService{
		registry: registry,
		states:   states,
		tokens:   tokens,
		accounts: accounts,
		client:   client,
		now:      time.Now,
	}
}

// flow builds the flow engine for a provider id.
func (s *oidcService) flow(provider string) (*Flow, error) {
	cfg, err := s.registry.Config(provider)
	if err != nil {
		return nil, err
	}
	f := NewFlow(cfg, s.states, s.client)
	f.now = s.now
	return f, nil
}

// Providers lists the enabled providers.
func (s *oidcService) Providers() []ProviderInfo {
	return s.registry.ListEnabled()
}

// Metadata describes the enabled providers.
func (s *oidcService) Metadata() []ProviderMetadata {
	return s.registry.AllMetadata()
}

// Initiate starts an authorization attempt: a fresh state is stored and
// the provider redirect URL returned.
func (s *oidcService) Initiate(ctx context.Context, provider string) (*InitiateResponse, error) {
	f, err := s.flow(provider)
	if err != nil {
		return nil, err
	}

	state, err := f.GenerateState()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if err := f.StoreState(ctx, state, nil, DefaultStateTTL); err != nil {
		return nil, err
	}

	return &InitiateResponse{
		AuthorizationURL: f.AuthorizationURL(state),
		State:            state,
	}, nil
}

// Callback completes an authorization attempt. The state is consumed
// before any provider call, so a replayed callback never reaches the
// token endpoint.
func (s *oidcService) Callback(ctx context.Context, provider, code, state string) (*auth.LoginResult, error) {
	f, err := s.flow(provider)
	if err != nil {
		return nil, err
	}

	if _, err := f.VerifyState(ctx, state); err != nil {
		return nil, err
	}

	set, err := f.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	ident, err := f.UserInfo(ctx, set.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.accounts.UpsertExternalUser(ctx, ident.External())
	if err != nil {
		return nil, err
	}

	rec := &TokenRecord{
		UserID:       user.ID,
		Provider:     string(f.cfg.ID),
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		TokenType:    set.TokenType,
		Scope:        set.Scope,
		ExpiresAt:    f.CalculateExpiry(set.ExpiresIn),
	}
	if err := s.tokens.Save(ctx, rec); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("saving provider token: %w", err))
	}

	result, err := s.accounts.CompleteLogin(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("oidc login",
		slog.String("provider", provider),
		slog.Int64("user_id", user.ID),
		slog.String("oauth_id", ident.ExternalID()),
	)
	return result, nil
}

// ShouldRefresh reports whether the user's provider token is inside the
// refresh window. Users without a stored token never need a refresh.
func (s *oidcService) ShouldRefresh(ctx context.Context, userID int64) (bool, error) {
	rec, err := s.tokens.FindByUserID(ctx, userID)
	if apperror.Is(err, apperror.TypeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.NewInternal(err)
	}
	return rec.ExpiresAt.Sub(s.now()) <= RefreshWindow, nil
}

// RefreshUserToken refreshes the user's provider token. Concurrent calls
// for the same user share a single provider request.
func (s *oidcService) RefreshUserToken(ctx context.Context, userID int64) (*TokenRecord, error) {
	v, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		rec, err := s.tokens.FindByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.refresh(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenRecord), nil
}

func (s *oidcService) refresh(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	f, err := s.flow(rec.Provider)
	if err != nil {
		return nil, err
	}

	set, err := f.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		return nil, err
	}

	updated := *rec
	updated.AccessToken = set.AccessToken
	updated.RefreshToken = set.RefreshToken
	updated.TokenType = set.TokenType
	if set.Scope != "" {
		updated.Scope = set.Scope
	}
	updated.ExpiresAt = f.CalculateExpiry(set.ExpiresIn)

	if err := s.tokens.Save(ctx, &updated); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("saving refreshed provider token: %w", err))
	}
	return &updated, nil
}

// RefreshDue refreshes stored tokens of enabled providers inside the
// refresh window and returns how many succeeded. A failed record is backed
// off so it cannot keep later records out of the batch; a grant the
// provider rejected as invalid loses its refresh token.
func (s *oidcService) RefreshDue(ctx context.Context) (int, error) {
	var providers []string
	for _, p := range s.registry.ListEnabled() {
		providers = append(providers, p.ID)
	}
	if len(providers) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	due, err := s.tokens.ListDueForRefresh(ctx, RefreshQuery{
		ExpiringBefore: now.Add(RefreshWindow),
		Now:            now,
		Providers:      providers,
		Limit:          refreshBatchSize,
	})
	if err != nil {
		return 0, apperror.NewInternal(err)
	}

	refreshed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		_, err := s.RefreshUserToken(ctx, rec.UserID)
		if err == nil {
			refreshed++
			continue
		}
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}

		failures := rec.RefreshFailures + 1
		next := now.Add(refreshBackoff(failures))
		drop := grantRevoked(err)
		slog.Warn("provider token refresh failed",
			slog.Int64("user_id", rec.UserID),
			slog.String("provider", rec.Provider),
			slog.Int("failures", failures),
			slog.Time("next_attempt", next),
			slog.Bool("refresh_token_dropped", drop),
			slog.Any("error", err),
		)
		if err := s.tokens.MarkRefreshFailed(ctx, rec.UserID, next, drop); err != nil {
			slog.Error("recording provider token refresh failure",
				slog.Int64("user_id", rec.UserID),
				slog.Any("error", err),
			)
		}
	}
	return refreshed, nil
}

// refreshBackoff is the hold-back after the given number of consecutive
// failures.
func refreshBackoff(failures int) time.Duration {
	d := refreshBackoffBase
	for i := 1; i < failures && d < refreshBackoffMax; i++ {
		d *= 2
	}
	return min(d, refreshBackoffMax)
}

// grantRevoked reports whether the provider rejected the refresh token
// itself, so retrying with it can never succeed.
func grantRevoked(err error) bool {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	code, _ := appErr.Details["error"].(string)
	return code == "invalid_grant"
}

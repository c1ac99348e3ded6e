package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// APIKeyPrefix marks a credential as an API key rather than a bearer token.
const APIKeyPrefix = "sk-"

// Method names the credential type that authenticated a request.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodBearer Method = "bearer"
)

// APIKeyRecord is the part of a stored API key the authenticator needs.
type APIKeyRecord struct {
	ID       int64
	UserID   int64
	IsActive bool
}

// APIKeyStore resolves raw API keys. Lookup returns apperror.NotFound for
// unknown keys.
type APIKeyStore interface {
	Lookup(ctx context.Context, rawKey string) (*APIKeyRecord, error)
	Touch(ctx context.Context, keyID int64) error
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User     *User
	Method   Method
	APIKeyID int64
	// Token is the raw credential, kept so logout can revoke it.
	Token string
}

// AuthFailure wraps any authentication error with the branch that
// produced it. Clients see one unauthenticated response; logs and callers
// using errors.As can still tell the branches apart.
type AuthFailure struct {
	Method Method
	Err    error
}

func (f *AuthFailure) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", f.Method, f.Err)
}

func (f *AuthFailure) Unwrap() error {
	return f.Err
}

// Authenticator accepts either an API key or a bearer token and resolves
// it to an active user.
type Authenticator struct {
	service AuthService
	keys    APIKeyStore
}

// NewAuthenticator creates an authenticator. keys may be nil, in which case
// every sk- credential is rejected.
func NewAuthenticator(service AuthService, keys APIKeyStore) *Authenticator {
	return &Authenticator{service: service, keys: keys}
}

// Authenticate dispatches on the credential prefix.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if strings.HasPrefix(credential, APIKeyPrefix) {
		p, err := a.authenticateAPIKey(ctx, credential)
		if err != nil {
			return nil, &AuthFailure{Method: MethodAPIKey, Err: err}
		}
		return p, nil
	}

	user, err := a.service.ResolveUser(ctx, credential)
	if err != nil {
		return nil, &AuthFailure{Method: MethodBearer, Err: err}
	}
	return &Principal{User: user, Method: MethodBearer, Token: credential}, nil
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, raw string) (*Principal, error) {
	if a.keys == nil {
		return nil, apperror.NewUnauthorized("invalid API key")
	}

	key, err := a.keys.Lookup(ctx, raw)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewUnauthorized("invalid API key")
		}
		return nil, apperror.NewInternal(fmt.Errorf("looking up API key: %w", err))
	}
	if !key.IsActive {
		return nil, apperror.NewUnauthorized("invalid API key").WithDetail("reason", "key_disabled")
	}

	// Last-used bookkeeping never blocks authentication.
	if err := a.keys.Touch(ctx, key.ID); err != nil {
		slog.Warn("failed to record API key use",
			slog.Int64("key_id", key.ID),
			slog.Any("error", err),
		)
	}

	user, err := a.service.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	return &Principal{User: user, Method: MethodAPIKey, APIKeyID: key.ID, Token: raw}, nil
}

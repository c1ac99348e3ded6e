package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/password"
	"github.com/keyxmakerx/portcullis/internal/sanitize"
	"github.com/keyxmakerx/portcullis/internal/statestore"
	"github.com/keyxmakerx/portcullis/internal/token"
)

// tokenTypeBearer is the token_type reported alongside issued tokens.
const tokenTypeBearer = "bearer"

// Username and password limits for local registration.
const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 8
	maxPasswordLen = 128
)

// SessionStore is the slice of the state store the auth service needs.
// Implemented by *statestore.Store.
type SessionStore interface {
	PutSession(ctx context.Context, session statestore.Session, ttl time.Duration) error
	GetSession(ctx context.Context, userID int64) (*statestore.Session, error)
	DeleteSession(ctx context.Context, userID int64) (bool, error)
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	// Authenticate checks local credentials. Failure kinds, in check order:
	// unknown user, no password set, wrong password (all InvalidCredentials),
	// then AccountDisabled.
	Authenticate(ctx context.Context, username, password string) (*User, error)
	Register(ctx context.Context, input RegisterInput) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)

	IssueToken(user *User, extra map[string]any) (string, error)
	IssueTokenPair(user *User) (*TokenPair, error)
	VerifyToken(ctx context.Context, tok string) (*token.Claims, error)
	ResolveUser(ctx context.Context, tok string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)

	CreateSession(ctx context.Context, userID int64, tok string) error
	GetSession(ctx context.Context, userID int64) (*statestore.Session, error)
	EndSession(ctx context.Context, userID int64) (bool, error)
	Revoke(ctx context.Context, tok string) (bool, error)

	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, userID int64, tok string) error
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)

	// UpsertExternalUser finds or creates the account for a provider
	// identity. Returns AccountCreationDisabled when the account would be
	// new and creation is turned off.
	UpsertExternalUser(ctx context.Context, ident ExternalIdentity) (*User, error)

	// CompleteLogin runs the shared tail of every login: last-login stamp,
	// token pair, session record.
	CompleteLogin(ctx context.Context, user *User) (*LoginResult, error)
}

// authService implements AuthService with argon2id hashing, signed tokens
// and Redis sessions.
type authService struct {
	repo             UserRepository
	sessions         SessionStore
	codec            *token.Codec
	sessionTTL       time.Duration
	allowNewAccounts bool
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(repo UserRepository, sessions SessionStore, codec *token.Codec, sessionTTL time.Duration, allowNewAccounts bool) AuthService {
	return &authService{
		repo:             repo,
		sessions:         sessions,
		codec:            codec,
		sessionTTL:       sessionTTL,
		allowNewAccounts: allowNewAccounts,
	}
}

// Authenticate checks a username and password against the user store.
func (s *authService) Authenticate(ctx context.Context, username, pw string) (*User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewInvalidCredentials("")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !user.HasPassword() {
		return nil, apperror.NewInvalidCredentials("this account has no password; sign in with its identity provider")
	}

	if !password.Verify(pw, *user.PasswordHash) {
		return nil, apperror.NewInvalidCredentials("")
	}

	if !user.IsActive {
		return nil, apperror.NewAccountDisabled()
	}

	if password.NeedsRehash(*user.PasswordHash) {
		s.rehash(ctx, user, pw)
	}

	return user, nil
}

// rehash upgrades a legacy hash after a successful login. Failure only
// costs the upgrade, so it is logged and ignored.
func (s *authService) rehash(ctx context.Context, user *User, pw string) {
	hash, err := password.Hash(pw)
	if err == nil {
		err = s.repo.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		slog.Warn("failed to upgrade password hash",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err),
		)
		return
	}
	user.PasswordHash = &hash
}

// Register creates a new local account.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	if !s.allowNewAccounts {
		return nil, apperror.NewAccountCreationDisabled()
	}

	username := strings.TrimSpace(input.Username)
	if msg := validateRegistration(username, input.Password); msg != "" {
		return nil, apperror.NewValidation(msg)
	}

	// Check before doing expensive hashing.
	exists, err := s.repo.UsernameExists(ctx, username)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking username: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("username is already taken")
	}

	hash, err := password.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		Username:     username,
		PasswordHash: &hash,
		IsActive:     true,
		CreatedAt:    nowUTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// UsernameExists reports whether a local account already uses username.
func (s *authService) UsernameExists(ctx context.Context, username string) (bool, error) {
	exists, err := s.repo.UsernameExists(ctx, strings.TrimSpace(username))
	if err != nil {
		return false, apperror.NewInternal(err)
	}
	return exists, nil
}

// IssueToken signs an access token for user.
func (s *authService) IssueToken(user *User, extra map[string]any) (string, error) {
	tok, err := s.codec.Issue(user.ID, user.Username, extra)
	if err != nil {
		return "", apperror.NewInternal(err)
	}
	return tok, nil
}

// IssueTokenPair signs an access token and a refresh token for user.
func (s *authService) IssueTokenPair(user *User) (*TokenPair, error) {
	access, err := s.IssueToken(user, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.IssueRefresh(user.ID, user.Username)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.codec.AccessTTL() / time.Second),
	}, nil
}

// VerifyToken checks the signature, expiry and revocation status of an
// access token. If the blacklist cannot be consulted the token is rejected.
func (s *authService) VerifyToken(ctx context.Context, tok string) (*token.Claims, error) {
	claims, err := s.codec.Verify(tok)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, apperror.NewTokenExpired()
		}
		return nil, apperror.NewInvalidToken(err)
	}

	revoked, err := s.sessions.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, apperror.NewUnavailable(err)
	}
	if revoked {
		return nil, apperror.NewTokenBlacklisted().WithDetail("jti", claims.ID)
	}
	return claims, nil
}

// ResolveUser maps a verified access token to an active user.
func (s *authService) ResolveUser(ctx context.Context, tok string) (*User, error) {
	claims, err := s.VerifyToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperror.NewInvalidToken(err)
	}
	return s.GetUser(ctx, userID)
}

// GetUser loads an account and rejects disabled ones.
func (s *authService) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewUserNotFound()
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	if !user.IsActive {
		return nil, apperror.NewAccountDisabled()
	}
	return user, nil
}

// CreateSession records tok as the user's current session, replacing any
// previous one.
func (s *authService) CreateSession(ctx context.Context, userID int64, tok string) error {
	err := s.sessions.PutSession(ctx, statestore.Session{
		UserID:    userID,
		Token:     tok,
		CreatedAt: nowUTC(),
	}, s.sessionTTL)
	if err != nil {
		return apperror.NewUnavailable(err)
	}
	return nil
}

// GetSession returns the user's current session record.
func (s *authService) GetSession(ctx context.Context, userID int64) (*statestore.Session, error) {
	session, err := s.sessions.GetSession(ctx, userID)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, apperror.NewNotFound("session not found")
	}
	if err != nil {
		return nil, apperror.NewUnavailable(err)
	}
	return session, nil
}

// EndSession deletes the user's session. Reports whether one existed.
func (s *authService) EndSession(ctx context.Context, userID int64) (bool, error) {
	existed, err := s.sessions.DeleteSession(ctx, userID)
	if err != nil {
		return false, apperror.NewUnavailable(err)
	}
	return existed, nil
}

// Revoke blacklists an access token for the rest of its lifetime. Returns
// false for tokens that cannot be decoded and true without writing anything
// for tokens that have already expired.
func (s *authService) Revoke(ctx context.Context, tok string) (bool, error) {
	jti := s.codec.TokenID(tok)
	if jti == "" {
		return false, nil
	}
	remaining, ok := s.codec.RemainingSeconds(tok)
	if !ok {
		return false, nil
	}
	if remaining <= 0 {
		return true, nil
	}
	if err := s.sessions.Blacklist(ctx, jti, time.Duration(remaining)*time.Second); err != nil {
		return false, apperror.NewUnavailable(err)
	}
	return true, nil
}

// Login authenticates local credentials and completes the login.
func (s *authService) Login(ctx context.Context, username, pw string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, username, pw)
	if err != nil {
		return nil, err
	}
	result, err := s.CompleteLogin(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return result, nil
}

// CompleteLogin stamps the last login, issues a token pair and records the
// session. A failed session write is logged and the login still succeeds:
// sessions are bookkeeping, token verification does not depend on them.
func (s *authService) CompleteLogin(ctx context.Context, user *User) (*LoginResult, error) {
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("updating last login: %w", err))
	}
	now := nowUTC()
	user.LastLoginAt = &now

	pair, err := s.IssueTokenPair(user)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("login aborted: %w", err))
	}

	if err := s.CreateSession(ctx, user.ID, pair.AccessToken); err != nil {
		slog.Warn("failed to record session",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	return &LoginResult{TokenPair: *pair, User: user}, nil
}

// Logout ends the user's session and revokes the presented access token.
func (s *authService) Logout(ctx context.Context, userID int64, tok string) error {
	if _, err := s.EndSession(ctx, userID); err != nil {
		slog.Warn("failed to delete session on logout",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}

	if _, err := s.Revoke(ctx, tok); err != nil {
		return err
	}

	slog.Info("user logged out", slog.Int64("user_id", userID))
	return nil
}

// Refresh exchanges a valid refresh token for a new token pair.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, apperror.NewTokenExpired()
		}
		return nil, apperror.NewInvalidToken(err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperror.NewInvalidToken(err)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	pair, err := s.IssueTokenPair(user)
	if err != nil {
		return nil, err
	}
	if err := s.CreateSession(ctx, user.ID, pair.AccessToken); err != nil {
		slog.Warn("failed to record session on refresh",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	return &LoginResult{TokenPair: *pair, User: user}, nil
}

// UpsertExternalUser finds or creates the account for a provider identity.
func (s *authService) UpsertExternalUser(ctx context.Context, ident ExternalIdentity) (*User, error) {
	if !s.allowNewAccounts {
		_, err := s.repo.FindByOAuthID(ctx, ident.OAuthID)
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewAccountCreationDisabled()
		}
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("finding external user: %w", err))
		}
	}

	user, err := s.repo.UpsertExternal(ctx, ident)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("upserting external user: %w", err))
	}
	if !user.IsActive {
		return nil, apperror.NewAccountDisabled()
	}
	return user, nil
}

// --- Helpers ---

// validateRegistration returns an error message or empty string.
func validateRegistration(username, pw string) string {
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		return "username is required"
	case n < minUsernameLen:
		return fmt.Sprintf("username must be at least %d characters", minUsernameLen)
	case n > maxUsernameLen:
		return fmt.Sprintf("username must be at most %d characters", maxUsernameLen)
	case strings.ContainsAny(username, " \t\r\n:"):
		return "username must not contain spaces or colons"
	case sanitize.Text(username) != username:
		return "username must not contain markup"
	case pw == "":
		return "password is required"
	case len(pw) < minPasswordLen:
		return fmt.Sprintf("password must be at least %d characters", minPasswordLen)
	case len(pw) > maxPasswordLen:
		return fmt.Sprintf("password must be at most %d characters", maxPasswordLen)
	}
	return ""
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

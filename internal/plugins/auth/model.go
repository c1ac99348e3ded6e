// Package auth is the authentication core of Portcullis: local credential
// checks, token issuance and verification, Redis-backed sessions, token
// revocation and the flexible authenticator that accepts either an API key
// or a bearer token.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// User is an account. Local accounts carry a password hash; accounts
// created through an identity provider carry an OAuthID of the form
// "provider:subject" and may have no password at all.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash *string    `json:"-"` // Never expose in JSON responses.
	OAuthID      *string    `json:"oauth_id,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	TrustLevel   int        `json:"trust_level"`
	IsActive     bool       `json:"is_active"`
	IsSilenced   bool       `json:"is_silenced"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// ExternalIdentity is what an identity provider tells us about a user,
// reduced to the fields stored on the account.
type ExternalIdentity struct {
	// OAuthID is "provider:subject" and uniquely identifies the account.
	OAuthID    string
	Username   string
	AvatarURL  string
	TrustLevel int
}

// TokenPair is an access token plus the refresh token that can replace it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginResult is returned by every successful login path.
type LoginResult struct {
	TokenPair
	User *User `json:"user"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the credentials posted to the login endpoint.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// RegisterRequest holds the data posted to the registration endpoint.
type RegisterRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// RefreshRequest carries a refresh token to exchange for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// --- Service Input DTOs ---

// RegisterInput is the validated input for creating a local account.
type RegisterInput struct {
	Username string
	Password string
}

// LogoutResponse confirms a logout.
type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UsernameCheckResponse answers the username availability endpoint.
type UsernameCheckResponse struct {
	Exists   bool   `json:"exists"`
	Username string `json:"username"`
}

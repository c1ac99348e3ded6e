// Package oidc implements sign-in through external OAuth2/OIDC identity
// providers: the provider registry, the per-provider authorization-code
// flow, and storage of the provider tokens each user signed in with.
package oidc

import (
	"fmt"
	"time"

	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// ProviderType identifies one of the supported identity providers.
type ProviderType string

const (
	ProviderLinuxDo  ProviderType = "linux_do"
	ProviderGitHub   ProviderType = "github"
	ProviderPocketID ProviderType = "pocketid"
)

// Identity is the provider-agnostic view of a user produced by applying a
// provider's field map to its user-info response.
type Identity struct {
	Provider      ProviderType   `json:"provider"`
	Subject       string         `json:"sub"`
	Username      string         `json:"username,omitempty"`
	Name          string         `json:"name,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified *bool          `json:"email_verified,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	TrustLevel    int            `json:"trust_level"`
	Raw           map[string]any `json:"-"`
}

// ExternalID is the stable account key, "provider:subject".
func (i *Identity) ExternalID() string {
	return fmt.Sprintf("%s:%s", i.Provider, i.Subject)
}

// DisplayUsername picks the username for a new account: the provider's
// username, then the display name, then "provider_subject".
func (i *Identity) DisplayUsername() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.Name != "":
		return i.Name
	default:
		return fmt.Sprintf("%s_%s", i.Provider, i.Subject)
	}
}

// External converts the identity into the shape the user store upserts.
func (i *Identity) External() auth.ExternalIdentity {
	return auth.ExternalIdentity{
		OAuthID:    i.ExternalID(),
		Username:   i.DisplayUsername(),
		AvatarURL:  i.Picture,
		TrustLevel: i.TrustLevel,
	}
}

// TokenSet is the result of a code exchange or refresh at a provider's
// token endpoint.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRecord is the provider token pair kept for a user after an OIDC
// login. One record per user; a later login replaces it.
type TokenRecord struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`

	// RefreshFailures counts consecutive failed background refreshes.
	// NextRefreshAt holds the record back from the refresher until then.
	RefreshFailures int        `json:"refresh_failures"`
	NextRefreshAt   *time.Time `json:"next_refresh_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshQuery selects the records one refresher pass works on.
type RefreshQuery struct {
	ExpiringBefore time.Time
	Now            time.Time
	Providers      []string
	Limit          int
}

// ProviderInfo is the short listing entry for an enabled provider.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderMetadata describes an enabled provider in more detail.
type ProviderMetadata struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	Enabled         bool   `json:"enabled"`
	SupportsRefresh bool   `json:"supports_refresh"`
	Description     string `json:"description"`
}

// --- Request / response DTOs ---

// ProvidersResponse is returned by the provider listing endpoint.
type ProvidersResponse struct {
	Providers []ProviderInfo     `json:"providers"`
	Metadata  []ProviderMetadata `json:"metadata"`
}

// InitiateResponse carries the URL the client should redirect to.
type InitiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// CallbackRequest holds the parameters a provider redirects back with.
type CallbackRequest struct {
	Code  string `json:"code" query:"code" form:"code"`
	State string `json:"state" query:"state" form:"state"`
}

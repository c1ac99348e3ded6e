package oidc

import (
	"strings"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/config"
)

// FieldMap names the user-info fields a provider uses for each normalized
// claim. Empty entries fall back to the defaults in normalize.go.
type FieldMap struct {
	Subject       string
	Username      string
	Name          string
	Email         string
	EmailVerified string
	Picture       string
	TrustLevel    string
}

// ProviderConfig is the fully resolved configuration for one provider.
type ProviderConfig struct {
	ID          ProviderType
	Name        string
	Description string

	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// UseBasicAuth sends client credentials with HTTP Basic auth instead
	// of in the token request body.
	UseBasicAuth bool

	ExtraAuthorizeParams map[string]string
	ExtraTokenParams     map[string]string
	TokenHeaders         map[string]string
	UserInfoHeaders      map[string]string

	Fields FieldMap
}

// variant is the static description of a supported provider. Adding a
// provider means adding a variant; the flow engine does not change.
type variant struct {
	id          ProviderType
	name        string
	description string

	authorizeURL string
	tokenURL     string
	userInfoURL  string

	// Endpoint paths joined onto the configured base URL. Used by
	// self-hosted providers.
	baseRelative    bool
	requiresBaseURL bool

	scopes          []string
	basicAuth       bool
	tokenHeaders    map[string]string
	userInfoHeaders map[string]string
	fields          FieldMap

	credentials func(config.ProvidersConfig) config.ProviderCredentials
}

// variants lists every supported provider in display order.
var variants = []variant{
	{
		id:           ProviderLinuxDo,
		name:         "Linux.do",
		description:  "Linux.do community authentication",
		authorizeURL: "https://connect.linux.do/oauth2/authorize",
		tokenURL:     "https://connect.linux.do/oauth2/token",
		userInfoURL:  "https://connect.linux.do/api/user",
		scopes:       []string{"openid", "profile", "email"},
		basicAuth:    true,
		fields: FieldMap{
			Subject:    "id",
			Username:   "username",
			Name:       "name",
			Email:      "email",
			Picture:    "avatar_url",
			TrustLevel: "trust_level",
		},
		credentials: func(p config.ProvidersConfig) config.ProviderCredentials { return p.LinuxDo },
	},
	{
		id:              ProviderGitHub,
		name:            "GitHub",
		description:     "GitHub OAuth authentication",
		authorizeURL:    "https://github.com/login/oauth/authorize",
		tokenURL:        "https://github.com/login/oauth/access_token",
		userInfoURL:     "https://api.github.com/user",
		scopes:          []string{"read:user", "user:email"},
		basicAuth:       false,
		tokenHeaders:    map[string]string{"Accept": "application/json"},
		userInfoHeaders: map[string]string{"Accept": "application/vnd.github.v3+json"},
		fields: FieldMap{
			Subject:    "id",
			Username:   "login",
			Name:       "name",
			Email:      "email",
			Picture:    "avatar_url",
			TrustLevel: "trust_level", // GitHub has no such field; stays 0.
		},
		credentials: func(p config.ProvidersConfig) config.ProviderCredentials { return p.GitHub },
	},
	{
		id:              ProviderPocketID,
		name:            "PocketID",
		description:     "Self-hosted OIDC with passkey support",
		authorizeURL:    "/authorize",
		tokenURL:        "/token",
		userInfoURL:     "/userinfo",
		baseRelative:    true,
		requiresBaseURL: true,
		scopes:          []string{"openid", "profile", "email"},
		basicAuth:       true,
		fields: FieldMap{
			Subject:       "sub",
			Username:      "preferred_username",
			Name:          "name",
			Email:         "email",
			EmailVerified: "email_verified",
			Picture:       "picture",
			TrustLevel:    "trust_level",
		},
		credentials: func(p config.ProvidersConfig) config.ProviderCredentials { return p.PocketID },
	},
}

// Registry resolves provider ids to configurations. It is built once from
// the loaded config and never mutated.
type Registry struct {
	providers config.ProvidersConfig
}

// NewRegistry creates a registry over the given provider credentials.
func NewRegistry(providers config.ProvidersConfig) *Registry {
	return &Registry{providers: providers}
}

func lookupVariant(id string) (*variant, bool) {
	for i := range variants {
		if string(variants[i].id) == id {
			return &variants[i], true
		}
	}
	return nil, false
}

// IsEnabled reports whether a provider has a client id and secret (and,
// for self-hosted providers, a base URL). Unknown ids are never enabled.
func (r *Registry) IsEnabled(id string) bool {
	v, ok := lookupVariant(id)
	if !ok {
		return false
	}
	return r.enabled(v)
}

func (r *Registry) enabled(v *variant) bool {
	creds := v.credentials(r.providers)
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return false
	}
	if v.requiresBaseURL && creds.BaseURL == "" {
		return false
	}
	return true
}

// Config returns the resolved configuration for a provider. Unknown ids
// fail with UnsupportedProvider, known but disabled ones with
// ProviderNotConfigured.
func (r *Registry) Config(id string) (*ProviderConfig, error) {
	v, ok := lookupVariant(id)
	if !ok {
		return nil, apperror.NewUnsupportedProvider(id)
	}
	if !r.enabled(v) {
		return nil, apperror.NewProviderNotConfigured(id)
	}
	return r.resolve(v), nil
}

func (r *Registry) resolve(v *variant) *ProviderConfig {
	creds := v.credentials(r.providers)

	authorizeURL, tokenURL, userInfoURL := v.authorizeURL, v.tokenURL, v.userInfoURL
	if v.baseRelative {
		base := strings.TrimRight(creds.BaseURL, "/")
		authorizeURL = base + authorizeURL
		tokenURL = base + tokenURL
		userInfoURL = base + userInfoURL
	}

	return &ProviderConfig{
		ID:                    v.id,
		Name:                  v.name,
		Description:           v.description,
		AuthorizationEndpoint: override(creds.AuthorizeURL, authorizeURL),
		TokenEndpoint:         override(creds.TokenURL, tokenURL),
		UserInfoEndpoint:      override(creds.UserInfoURL, userInfoURL),
		ClientID:              creds.ClientID,
		ClientSecret:          creds.ClientSecret,
		RedirectURI:           creds.RedirectURI,
		Scopes:                append([]string(nil), v.scopes...),
		UseBasicAuth:          v.basicAuth,
		ExtraAuthorizeParams:  map[string]string{},
		ExtraTokenParams:      map[string]string{},
		TokenHeaders:          copyHeaders(v.tokenHeaders),
		UserInfoHeaders:       copyHeaders(v.userInfoHeaders),
		Fields:                v.fields,
	}
}

// ListEnabled returns the enabled providers in display order.
func (r *Registry) ListEnabled() []ProviderInfo {
	out := []ProviderInfo{}
	for i := range variants {
		if r.enabled(&variants[i]) {
			out = append(out, ProviderInfo{ID: string(variants[i].id), Name: variants[i].name})
		}
	}
	return out
}

// Metadata describes a single provider. ok is false when the provider is
// unknown or not enabled.
func (r *Registry) Metadata(id string) (ProviderMetadata, bool) {
	v, ok := lookupVariant(id)
	if !ok || !r.enabled(v) {
		return ProviderMetadata{}, false
	}
	return ProviderMetadata{
		ID:              string(v.id),
		Name:            v.name,
		Type:            string(v.id),
		Enabled:         true,
		SupportsRefresh: true,
		Description:     v.description,
	}, true
}

// AllMetadata returns metadata for every enabled provider.
func (r *Registry) AllMetadata() []ProviderMetadata {
	out := []ProviderMetadata{}
	for i := range variants {
		if md, ok := r.Metadata(string(variants[i].id)); ok {
			out = append(out, md)
		}
	}
	return out
}

func override(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

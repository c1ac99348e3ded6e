package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keyxmakerx/portcullis/internal/sanitize"
)

// errMissingSubject is returned when a user-info response has no usable
// subject identifier.
var errMissingSubject = errors.New("user info has no subject")

func field(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// normalize maps a raw user-info document onto an Identity using the
// provider's field map. Numbers must have been decoded as json.Number.
// Profile text is stripped of markup and non-http avatar links are dropped.
func normalize(cfg *ProviderConfig, raw map[string]any) (*Identity, error) {
	fm := cfg.Fields

	sub, ok := scalarString(raw[field(fm.Subject, "id")])
	if !ok || sub == "" {
		return nil, errMissingSubject
	}

	ident := &Identity{
		Provider:   cfg.ID,
		Subject:    sub,
		Username:   sanitize.Text(stringClaim(raw, field(fm.Username, "username"))),
		Name:       sanitize.Text(stringClaim(raw, field(fm.Name, "name"))),
		Email:      strings.TrimSpace(stringClaim(raw, field(fm.Email, "email"))),
		Picture:    sanitize.URL(stringClaim(raw, field(fm.Picture, "avatar_url"))),
		TrustLevel: intClaim(raw, field(fm.TrustLevel, "trust_level")),
		Raw:        raw,
	}
	if v, ok := raw[field(fm.EmailVerified, "email_verified")].(bool); ok {
		ident.EmailVerified = &v
	}
	return ident, nil
}

// scalarString renders a string or number claim as a string. GitHub and
// Linux.do send numeric ids.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

func stringClaim(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// intClaim reads an integer claim, defaulting to 0 when it is absent or
// not a number.
func intClaim(raw map[string]any, key string) int {
	switch t := raw[key].(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return 0
}

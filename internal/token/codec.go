// Package token issues and verifies the signed bearer tokens the service
// hands out after a successful login. Tokens are HMAC-signed JWTs carrying
// the user id (sub), username, a unique id (jti) for revocation and a kind
// claim separating access tokens from refresh tokens.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind separates access tokens from refresh tokens. A refresh token never
// verifies as an access token, even when both share a secret.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification failures. ErrExpired is only returned for tokens whose
// signature is valid; anything tampered with or malformed is ErrInvalid.
var (
	ErrInvalid = errors.New("token: invalid")
	ErrExpired = errors.New("token: expired")
)

// Claims is the payload of every token issued by Codec.
type Claims struct {
	gojwt.RegisteredClaims
	Username string         `json:"username"`
	Kind     Kind           `json:"type"`
	Extra    map[string]any `json:"ext,omitempty"`
}

// UserID parses the subject claim back into a numeric user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalid, c.Subject)
	}
	return id, nil
}

// Config configures a Codec.
type Config struct {
	// Secret signs access tokens.
	Secret string

	// RefreshSecret signs refresh tokens. Empty means Secret.
	RefreshSecret string

	// Algorithm is HS256, HS384 or HS512.
	Algorithm string

	// Issuer is written to and required in the iss claim when set.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Codec signs and verifies tokens. Safe for concurrent use.
type Codec struct {
	cfg    Config
	method gojwt.SigningMethod
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret is required")
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.Secret
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	method, ok := gojwt.GetSigningMethod(cfg.Algorithm).(*gojwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: lifetimes must be positive")
	}
	return &Codec{cfg: cfg, method: method, now: time.Now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.cfg.AccessTTL
}

// Issue signs an access token for the user. Extra claims are carried under
// "ext" and cannot override the standard ones.
func (c *Codec) Issue(userID int64, username string, extra map[string]any) (string, error) {
	return c.sign(KindAccess, userID, username, extra)
}

// IssueRefresh signs a refresh token for the user.
func (c *Codec) IssueRefresh(userID int64, username string) (string, error) {
	return c.sign(KindRefresh, userID, username, nil)
}

func (c *Codec) sign(kind Kind, userID int64, username string, extra map[string]any) (string, error) {
	now := c.now()
	ttl, secret := c.cfg.AccessTTL, c.cfg.Secret
	if kind == KindRefresh {
		ttl, secret = c.cfg.RefreshTTL, c.cfg.RefreshSecret
	}

	claims := &Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Username: username,
		Kind:     kind,
		Extra:    extra,
	}

	signed, err := gojwt.NewWithClaims(c.method, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks an access token's signature, expiry and kind.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	return c.verify(tokenString, KindAccess)
}

// VerifyRefresh checks a refresh token's signature, expiry and kind.
func (c *Codec) VerifyRefresh(tokenString string) (*Claims, error) {
	return c.verify(tokenString, KindRefresh)
}

func (c *Codec) verify(tokenString string, kind Kind) (*Claims, error) {
	claims, err := c.parse(tokenString, kind, true)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalid, kind, claims.Kind)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalid)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenID returns the jti of a correctly signed access token, ignoring
// expiry. Returns "" when the token cannot be decoded or was not signed by
// this codec, so forged tokens never reach the blacklist.
func (c *Codec) TokenID(tokenString string) string {
	claims, err := c.parse(tokenString, KindAccess, false)
	if err != nil {
		return ""
	}
	return claims.ID
}

// RemainingSeconds returns whole seconds until the access token expires,
// ignoring whether it already has. The value is floored, so it never
// exceeds the real remaining lifetime, and is negative for expired tokens.
// ok is false when the token cannot be decoded or has no exp claim.
func (c *Codec) RemainingSeconds(tokenString string) (seconds int64, ok bool) {
	claims, err := c.parse(tokenString, KindAccess, false)
	if err != nil || claims.ExpiresAt == nil {
		return 0, false
	}
	remaining := claims.ExpiresAt.Sub(c.now())
	return int64(remaining / time.Second), true
}

func (c *Codec) parse(tokenString string, kind Kind, validate bool) (*Claims, error) {
	secret := c.cfg.Secret
	if kind == KindRefresh {
		secret = c.cfg.RefreshSecret
	}

	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{c.method.Alg()}),
		gojwt.WithTimeFunc(c.now),
	}
	if validate {
		opts = append(opts, gojwt.WithExpirationRequired())
		if c.cfg.Issuer != "" {
			opts = append(opts, gojwt.WithIssuer(c.cfg.Issuer))
		}
	} else {
		opts = append(opts, gojwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	tok, err := gojwt.ParseWithClaims(tokenString, claims, func(*gojwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

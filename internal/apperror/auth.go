package apperror

import (
	"fmt"
	"net/http"
)

// NewInvalidCredentials reports a failed local login. The message is shown
// to the user, so it must not say which half of the credentials was wrong.
func NewInvalidCredentials(message string) *AppError {
	if message == "" {
		message = "invalid username or password"
	}
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeInvalidCredentials,
		Message: message,
	}
}

// NewAccountDisabled reports that the account exists but is not active.
func NewAccountDisabled() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeAccountDisabled,
		Message: "account is disabled",
	}
}

// NewInvalidToken reports a malformed, tampered or wrong-kind token.
func NewInvalidToken(err error) *AppError {
	return &AppError{
		Code:     http.StatusUnauthorized,
		Type:     TypeInvalidToken,
		Message:  "invalid token",
		Internal: err,
	}
}

// NewTokenExpired reports a well-formed token past its expiry.
func NewTokenExpired() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeTokenExpired,
		Message: "token has expired",
	}
}

// NewTokenBlacklisted reports a token whose identifier has been revoked.
func NewTokenBlacklisted() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeTokenBlacklisted,
		Message: "token has been revoked",
	}
}

// NewUserNotFound reports that a token or key refers to a missing user.
func NewUserNotFound() *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeUserNotFound,
		Message: "user not found",
	}
}

// NewInvalidOAuthState reports an unknown, expired or already consumed
// OAuth state value.
func NewInvalidOAuthState() *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeInvalidOAuthState,
		Message: "invalid or expired login attempt",
	}
}

// NewUnsupportedProvider reports a provider id outside the known set.
func NewUnsupportedProvider(id string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeUnsupportedProvider,
		Message: fmt.Sprintf("unsupported provider: %s", id),
	}
}

// NewProviderNotConfigured reports a known provider without credentials.
func NewProviderNotConfigured(id string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeProviderNotConfigured,
		Message: fmt.Sprintf("provider is not configured: %s", id),
	}
}

// NewOAuthTokenExchange reports a failed authorization-code or refresh
// exchange. Attach status and body with WithDetail.
func NewOAuthTokenExchange(message string, err error) *AppError {
	return &AppError{
		Code:     http.StatusBadGateway,
		Type:     TypeOAuthTokenExchange,
		Message:  message,
		Internal: err,
	}
}

// NewOAuthUserInfo reports a failed or malformed user-info fetch.
func NewOAuthUserInfo(message string, err error) *AppError {
	return &AppError{
		Code:     http.StatusBadGateway,
		Type:     TypeOAuthUserInfo,
		Message:  message,
		Internal: err,
	}
}

// NewAccountCreationDisabled reports that a first-time login would need a
// new account while account creation is turned off.
func NewAccountCreationDisabled() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeAccountCreationDisabled,
		Message: "new account creation is disabled",
	}
}

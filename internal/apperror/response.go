package apperror

import (
	"errors"
	"net/http"
)

// genericAuthMessage replaces the message of every authentication failure
// whose detail would help an attacker.
const genericAuthMessage = "authentication failed"

// Response is the JSON body written for an error.
type Response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Public maps an error to the status code and body sent to clients. Each
// kind is listed explicitly. Token kinds keep their type so clients can
// choose between refreshing and logging in again, but share one message.
func Public(err error) (int, Response) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, Response{
			Type:    TypeInternal,
			Message: "an unexpected error occurred",
		}
	}

	switch appErr.Type {
	case TypeInvalidCredentials,
		TypeAccountDisabled,
		TypeAccountCreationDisabled,
		TypeUnsupportedProvider,
		TypeProviderNotConfigured:
		return appErr.Code, Response{Type: appErr.Type, Message: appErr.Message}

	case TypeInvalidToken, TypeTokenExpired, TypeTokenBlacklisted:
		return http.StatusUnauthorized, Response{Type: appErr.Type, Message: genericAuthMessage}

	case TypeUserNotFound, TypeUnauthorized:
		return http.StatusUnauthorized, Response{Type: TypeUnauthorized, Message: genericAuthMessage}

	case TypeInvalidOAuthState:
		return http.StatusBadRequest, Response{Type: appErr.Type, Message: genericAuthMessage}

	case TypeOAuthTokenExchange, TypeOAuthUserInfo:
		return http.StatusBadGateway, Response{Type: appErr.Type, Message: genericAuthMessage}

	case TypeInternal:
		return http.StatusInternalServerError, Response{Type: TypeInternal, Message: appErr.Message}

	default:
		return appErr.Code, Response{Type: appErr.Type, Message: appErr.Message}
	}
}

// Package pluginapi stores each user's credential for the downstream
// plug-in API and forwards authenticated /v1 requests to it.
package pluginapi

import "time"

// Credential is a user's encrypted plug-in API key.
type Credential struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	EncryptedKey string     `json:"-"`
	PluginUserID *string    `json:"plugin_user_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// KeyStatus is the public view of a user's credential. The key itself is
// never returned, only a masked form.
type KeyStatus struct {
	Configured   bool       `json:"configured"`
	MaskedKey    string     `json:"masked_key,omitempty"`
	PluginUserID *string    `json:"plugin_user_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// SaveKeyRequest is the JSON body for storing a credential.
type SaveKeyRequest struct {
	APIKey       string `json:"api_key"`
	PluginUserID string `json:"plugin_user_id,omitempty"`
}

// ProvisionRequest asks the downstream API to create an account for the
// caller.
type ProvisionRequest struct {
	PreferShared int `json:"prefer_shared"`
}

// provisionPayload is sent to the downstream admin endpoint.
type provisionPayload struct {
	Name         string `json:"name"`
	PreferShared int    `json:"prefer_shared"`
}

// provisionResult is the downstream admin endpoint's response.
type provisionResult struct {
	Data struct {
		APIKey string `json:"api_key"`
		UserID any    `json:"user_id"`
	} `json:"data"`
}

// Package apikeys manages the long-lived "sk-" credentials users hand to
// scripts and chat clients. Only a SHA-256 digest of each key is stored;
// the plaintext is shown once at creation.
package apikeys

import "time"

// APIKey is a stored key. The raw key is never persisted.
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`          // Never exposed in JSON.
	KeyPrefix  string     `json:"key_prefix"` // First 8 chars for display.
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateKeyRequest is the JSON body for creating a key.
type CreateKeyRequest struct {
	Name string `json:"name" form:"name"`
}

// CreateKeyResult is returned once after creation and carries the
// plaintext key.
type CreateKeyResult struct {
	Key    *APIKey `json:"key"`
	RawKey string  `json:"raw_key"`
}

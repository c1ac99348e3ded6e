package pluginapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// CredentialRepository defines the data access contract for plug-in
// credentials. user_id is unique.
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *Credential) error
	FindByUserID(ctx context.Context, userID int64) (*Credential, error)
	Delete(ctx context.Context, userID int64) (bool, error)
	TouchLastUsed(ctx context.Context, userID int64) error
}

type credentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Upsert inserts or replaces the user's credential and reactivates it.
func (r *credentialRepository) Upsert(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plugin_api_keys (user_id, api_key, plugin_user_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, TRUE, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   api_key = VALUES(api_key),
		   plugin_user_id = VALUES(plugin_user_id),
		   is_active = TRUE,
		   updated_at = VALUES(updated_at)`,
		cred.UserID, cred.EncryptedKey, cred.PluginUserID, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving plugin credential: %w", err)
	}
	cred.IsActive = true
	cred.UpdatedAt = now
	return nil
}

// FindByUserID returns the user's credential.
func (r *credentialRepository) FindByUserID(ctx context.Context, userID int64) (*Credential, error) {
	c := &Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, api_key, plugin_user_id, is_active, last_used_at, created_at, updated_at
		 FROM plugin_api_keys WHERE user_id = ?`, userID,
	).Scan(&c.ID, &c.UserID, &c.EncryptedKey, &c.PluginUserID, &c.IsActive,
		&c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("plug-in API key not configured")
	}
	if err != nil {
		return nil, fmt.Errorf("querying plugin credential: %w", err)
	}
	return c, nil
}

// Delete removes the user's credential and reports whether one existed.
func (r *credentialRepository) Delete(ctx context.Context, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM plugin_api_keys WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("deleting plugin credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// TouchLastUsed stamps last_used_at with the current time.
func (r *credentialRepository) TouchLastUsed(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE plugin_api_keys SET last_used_at = NOW() WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("touching plugin credential: %w", err)
	}
	return nil
}

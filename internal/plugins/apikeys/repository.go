package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// KeyRepository defines the data access contract for API keys.
type KeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindByID(ctx context.Context, id int64) (*APIKey, error)
	ListByUser(ctx context.Context, userID int64) ([]APIKey, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64) error
}

// keyRepository implements KeyRepository with MariaDB queries.
type keyRepository struct {
	db *sql.DB
}

// NewKeyRepository creates a new repository backed by the given DB pool.
func NewKeyRepository(db *sql.DB) KeyRepository {
	return &keyRepository{db: db}
}

const keyColumns = `id, user_id, name, key_hash, key_prefix, is_active, last_used_at, created_at`

// Create inserts a key and sets its ID.
func (r *keyRepository) Create(ctx context.Context, key *APIKey) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, name, key_hash, key_prefix, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.IsActive, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading api key id: %w", err)
	}
	key.ID = id
	return nil
}

// FindByHash retrieves a key by the digest of its raw value.
func (r *keyRepository) FindByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	return r.scanKey(r.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash))
}

// FindByID retrieves a key by primary key.
func (r *keyRepository) FindByID(ctx context.Context, id int64) (*APIKey, error) {
	return r.scanKey(r.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id))
}

// ListByUser returns all keys owned by a user, newest first.
func (r *keyRepository) ListByUser(ctx context.Context, userID int64) ([]APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.IsActive, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetActive enables or disables a key.
func (r *keyRepository) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("updating api key: %w", err)
	}
	return nil
}

// Delete removes a key permanently.
func (r *keyRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return nil
}

// TouchLastUsed stamps last_used_at with the current time.
func (r *keyRepository) TouchLastUsed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = ?`, id); err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

func (r *keyRepository) scanKey(row *sql.Row) (*APIKey, error) {
	k := &APIKey{}
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		&k.IsActive, &k.LastUsedAt, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("api key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

package oidc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// TokenRepository defines the data access contract for stored provider
// tokens.
type TokenRepository interface {
	Save(ctx context.Context, rec *TokenRecord) error
	FindByUserID(ctx context.Context, userID int64) (*TokenRecord, error)
	ListDueForRefresh(ctx context.Context, q RefreshQuery) ([]TokenRecord, error)
	MarkRefreshFailed(ctx context.Context, userID int64, nextAttempt time.Time, dropRefreshToken bool) error
}

// tokenRepository implements TokenRepository with MariaDB queries.
type tokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *sql.DB) TokenRepository {
	return &tokenRepository{db: db}
}

const tokenColumns = `id, user_id, provider, access_token, refresh_token, token_type, scope,
	expires_at, refresh_failures, next_refresh_at, created_at, updated_at`

// Save inserts or replaces the user's token record. user_id is unique.
// A save always clears the refresh backoff.
func (r *tokenRepository) Save(ctx context.Context, rec *TokenRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (user_id, provider, access_token, refresh_token, token_type, scope,
		                           expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   provider = VALUES(provider),
		   access_token = VALUES(access_token),
		   refresh_token = VALUES(refresh_token),
		   token_type = VALUES(token_type),
		   scope = VALUES(scope),
		   expires_at = VALUES(expires_at),
		   refresh_failures = 0,
		   next_refresh_at = NULL,
		   updated_at = VALUES(updated_at)`,
		rec.UserID, rec.Provider, rec.AccessToken, nullString(rec.RefreshToken), rec.TokenType,
		nullString(rec.Scope), rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving oauth token: %w", err)
	}
	rec.RefreshFailures = 0
	rec.NextRefreshAt = nil
	return nil
}

// FindByUserID returns the token record for a user.
func (r *tokenRepository) FindByUserID(ctx context.Context, userID int64) (*TokenRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE user_id = ?`, userID)
	rec, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("oauth token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying oauth token: %w", err)
	}
	return rec, nil
}

// ListDueForRefresh returns records of the given providers that expire
// before q.ExpiringBefore, carry a refresh token and are not backed off,
// soonest first. An empty provider list matches nothing.
func (r *tokenRepository) ListDueForRefresh(ctx context.Context, q RefreshQuery) ([]TokenRecord, error) {
	if len(q.Providers) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Providers)), ",")
	args := []any{q.ExpiringBefore, q.Now}
	for _, p := range q.Providers {
		args = append(args, p)
	}
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens
		 WHERE expires_at <= ? AND refresh_token IS NOT NULL AND refresh_token <> ''
		   AND (next_refresh_at IS NULL OR next_refresh_at <= ?)
		   AND provider IN (`+placeholders+`)
		 ORDER BY expires_at ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing oauth tokens due for refresh: %w", err)
	}
	defer rows.Close()

	var out []TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning oauth token: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkRefreshFailed records a failed refresh and holds the record back
// until nextAttempt. dropRefreshToken clears a grant the provider has
// rejected for good, which takes the record out of the refresher.
func (r *tokenRepository) MarkRefreshFailed(ctx context.Context, userID int64, nextAttempt time.Time, dropRefreshToken bool) error {
	query := `UPDATE oauth_tokens
		 SET refresh_failures = refresh_failures + 1, next_refresh_at = ?, updated_at = ?
		 WHERE user_id = ?`
	if dropRefreshToken {
		query = `UPDATE oauth_tokens
		 SET refresh_failures = refresh_failures + 1, next_refresh_at = ?, updated_at = ?,
		     refresh_token = NULL
		 WHERE user_id = ?`
	}
	if _, err := r.db.ExecContext(ctx, query, nextAttempt, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("recording oauth token refresh failure: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*TokenRecord, error) {
	rec := &TokenRecord{}
	var refresh, scope sql.NullString
	var next sql.NullTime
	if err := s.Scan(&rec.ID, &rec.UserID, &rec.Provider, &rec.AccessToken, &refresh,
		&rec.TokenType, &scope, &rec.ExpiresAt, &rec.RefreshFailures, &next,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.RefreshToken = refresh.String
	rec.Scope = scope.String
	if next.Valid {
		t := next.Time
		rec.NextRefreshAt = &t
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

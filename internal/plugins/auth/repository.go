package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

// mysqlDuplicateEntry is the MariaDB error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
// Lookups return apperror.NotFound when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByOAuthID(ctx context.Context, oauthID string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)

	// UpsertExternal creates the account for an external identity or
	// refreshes its avatar and trust level if it already exists.
	UpsertExternal(ctx context.Context, ident ExternalIdentity) (*User, error)

	UpdateLastLogin(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, password_hash, oauth_id, avatar_url,
	trust_level, is_active, is_silenced, created_at, last_login_at`

// Create inserts a new user row and sets user.ID from the generated key.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (username, password_hash, oauth_id, avatar_url, trust_level, is_active, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.OAuthID,
		user.AvatarURL,
		user.TrustLevel,
		user.IsActive,
		user.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return apperror.NewConflict("username is already taken")
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// FindByID retrieves a user by primary key.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindByUsername retrieves a user by exact username.
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// FindByOAuthID retrieves a user by their "provider:subject" identifier.
func (r *userRepository) FindByOAuthID(ctx context.Context, oauthID string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE oauth_id = ?`, oauthID)
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.OAuthID,
		&user.AvatarURL,
		&user.TrustLevel,
		&user.IsActive,
		&user.IsSilenced,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// UsernameExists returns true if a user with the given username exists.
func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking username existence: %w", err)
	}
	return exists, nil
}

// UpsertExternal inserts or updates the account keyed by oauth_id. A new
// account whose preferred username is taken gets the "provider_subject"
// form instead.
func (r *userRepository) UpsertExternal(ctx context.Context, ident ExternalIdentity) (*User, error) {
	var avatar *string
	if ident.AvatarURL != "" {
		avatar = &ident.AvatarURL
	}

	existing, err := r.FindByOAuthID(ctx, ident.OAuthID)
	if err == nil {
		_, err := r.db.ExecContext(ctx,
			`UPDATE users SET avatar_url = ?, trust_level = ?, updated_at = NOW() WHERE id = ?`,
			avatar, ident.TrustLevel, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("updating external user: %w", err)
		}
		existing.AvatarURL = avatar
		existing.TrustLevel = ident.TrustLevel
		return existing, nil
	}
	if !apperror.Is(err, apperror.TypeNotFound) {
		return nil, err
	}

	oauthID := ident.OAuthID
	user := &User{
		Username:   ident.Username,
		OAuthID:    &oauthID,
		AvatarURL:  avatar,
		TrustLevel: ident.TrustLevel,
		IsActive:   true,
	}
	user.CreatedAt = nowUTC()

	if err := r.Create(ctx, user); err != nil {
		if !apperror.Is(err, apperror.TypeConflict) {
			return nil, err
		}
		// Either the username is taken or a concurrent login created
		// this identity first.
		if again, findErr := r.FindByOAuthID(ctx, ident.OAuthID); findErr == nil {
			return again, nil
		}
		user.Username = strings.ReplaceAll(ident.OAuthID, ":", "_")
		if err := r.Create(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = ?`, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = NOW() WHERE id = ?`, passwordHash, id); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// SetActive enables or disables an account.
func (r *userRepository) SetActive(ctx context.Context, id int64, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = ?, updated_at = NOW() WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("updating active flag: %w", err)
	}
	return nil
}

// isDuplicate reports whether err is a MariaDB unique key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
	"github.com/keyxmakerx/portcullis/internal/sanitize"
)

const (
	// keyRandomBytes is the entropy behind each key (256 bits).
	keyRandomBytes = 32

	// keyPrefixLen is how much of the raw key is kept for display.
	keyPrefixLen = 8

	maxKeyNameLen = 100
)

// KeyService manages API key lifecycle. It also satisfies
// auth.APIKeyStore so the authenticator can resolve "sk-" credentials.
type KeyService interface {
	Create(ctx context.Context, userID int64, name string) (*CreateKeyResult, error)
	List(ctx context.Context, userID int64) ([]APIKey, error)
	Deactivate(ctx context.Context, userID, keyID int64) error
	Activate(ctx context.Context, userID, keyID int64) error
	Revoke(ctx context.Context, userID, keyID int64) error

	Lookup(ctx context.Context, raw string) (*auth.APIKeyRecord, error)
	Touch(ctx context.Context, keyID int64) error
}

type keyService struct {
	repo KeyRepository
	now  func() time.Time
}

// NewKeyService creates a new API key service.
func NewKeyService(repo KeyRepository) KeyService {
	return &keyService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Create generates a new key for the user. The returned result is the
// only time the raw key is available.
func (s *keyService) Create(ctx context.Context, userID int64, name string) (*CreateKeyResult, error) {
	name = sanitize.Text(name)
	if name == "" {
		return nil, apperror.NewValidation("key name is required")
	}
	if len([]rune(name)) > maxKeyNameLen {
		return nil, apperror.NewValidation(fmt.Sprintf("key name must be at most %d characters", maxKeyNameLen))
	}

	raw, err := generateKey()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating api key: %w", err))
	}

	key := &APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   HashKey(raw),
		KeyPrefix: raw[:keyPrefixLen],
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, apperror.NewInternal(err)
	}

	slog.Info("api key created",
		slog.Int64("user_id", userID),
		slog.Int64("key_id", key.ID),
		slog.String("prefix", key.KeyPrefix),
	)
	return &CreateKeyResult{Key: key, RawKey: raw}, nil
}

// List returns the user's keys.
func (s *keyService) List(ctx context.Context, userID int64) ([]APIKey, error) {
	keys, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if keys == nil {
		keys = []APIKey{}
	}
	return keys, nil
}

// Deactivate disables a key without deleting it.
func (s *keyService) Deactivate(ctx context.Context, userID, keyID int64) error {
	if _, err := s.owned(ctx, userID, keyID); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, keyID, false); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// Activate re-enables a previously disabled key.
func (s *keyService) Activate(ctx context.Context, userID, keyID int64) error {
	if _, err := s.owned(ctx, userID, keyID); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, keyID, true); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// Revoke deletes a key permanently.
func (s *keyService) Revoke(ctx context.Context, userID, keyID int64) error {
	key, err := s.owned(ctx, userID, keyID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, keyID); err != nil {
		return apperror.NewInternal(err)
	}
	slog.Info("api key revoked",
		slog.Int64("user_id", userID),
		slog.Int64("key_id", keyID),
		slog.String("prefix", key.KeyPrefix),
	)
	return nil
}

// Lookup resolves a raw key to its record. Unknown keys yield NotFound.
func (s *keyService) Lookup(ctx context.Context, raw string) (*auth.APIKeyRecord, error) {
	if !strings.HasPrefix(raw, auth.APIKeyPrefix) {
		return nil, apperror.NewNotFound("api key not found")
	}
	key, err := s.repo.FindByHash(ctx, HashKey(raw))
	if err != nil {
		return nil, err
	}
	return &auth.APIKeyRecord{ID: key.ID, UserID: key.UserID, IsActive: key.IsActive}, nil
}

// Touch records that a key was just used.
func (s *keyService) Touch(ctx context.Context, keyID int64) error {
	return s.repo.TouchLastUsed(ctx, keyID)
}

// owned loads a key and checks that userID owns it. Keys belonging to
// someone else read as not found.
func (s *keyService) owned(ctx context.Context, userID, keyID int64) (*APIKey, error) {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.UserID != userID {
		return nil, apperror.NewNotFound("api key not found")
	}
	return key, nil
}

// HashKey returns the hex SHA-256 digest stored for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateKey returns "sk-" followed by 64 hex characters.
func generateKey() (string, error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return auth.APIKeyPrefix + hex.EncodeToString(b), nil
}

package pluginapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keyxmakerx/portcullis/internal/apperror"
)

const maxKeyLen = 512

// Cipher encrypts credentials at rest. *secretbox.Box satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PluginService manages per-user plug-in API credentials.
type PluginService interface {
	SaveKey(ctx context.Context, userID int64, apiKey, pluginUserID string) (*KeyStatus, error)
	Status(ctx context.Context, userID int64) (*KeyStatus, error)
	DeleteKey(ctx context.Context, userID int64) error
	Provision(ctx context.Context, userID int64, username string, preferShared int) (*KeyStatus, error)

	// Credential returns the decrypted key used to call the downstream
	// API on the user's behalf.
	Credential(ctx context.Context, userID int64) (string, error)
	Touch(ctx context.Context, userID int64)
}

// ServiceConfig holds the downstream API settings the service needs.
type ServiceConfig struct {
	BaseURL  string
	AdminKey string
	Client   *http.Client
}

type pluginService struct {
	repo   CredentialRepository
	cipher Cipher
	cfg    ServiceConfig
}

// NewPluginService creates a new plug-in credential service.
func NewPluginService(repo CredentialRepository, cipher Cipher, cfg ServiceConfig) PluginService {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &pluginService{repo: repo, cipher: cipher, cfg: cfg}
}

// SaveKey encrypts and stores the user's key, replacing any previous one.
func (s *pluginService) SaveKey(ctx context.Context, userID int64, apiKey, pluginUserID string) (*KeyStatus, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, apperror.NewValidation("api_key is required")
	}
	if len(apiKey) > maxKeyLen {
		return nil, apperror.NewValidation(fmt.Sprintf("api_key must be at most %d characters", maxKeyLen))
	}

	sealed, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("encrypting plugin key: %w", err))
	}

	cred := &Credential{UserID: userID, EncryptedKey: sealed}
	if pluginUserID != "" {
		cred.PluginUserID = &pluginUserID
	}
	if err := s.repo.Upsert(ctx, cred); err != nil {
		return nil, apperror.NewInternal(err)
	}

	slog.Info("plugin key saved", slog.Int64("user_id", userID))
	return s.Status(ctx, userID)
}

// Status describes the user's credential without revealing it.
func (s *pluginService) Status(ctx context.Context, userID int64) (*KeyStatus, error) {
	cred, err := s.repo.FindByUserID(ctx, userID)
	if apperror.Is(err, apperror.TypeNotFound) {
		return &KeyStatus{Configured: false}, nil
	}
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	status := &KeyStatus{
		Configured:   true,
		PluginUserID: cred.PluginUserID,
		IsActive:     cred.IsActive,
		LastUsedAt:   cred.LastUsedAt,
		UpdatedAt:    &cred.UpdatedAt,
	}
	if plain, err := s.cipher.Decrypt(cred.EncryptedKey); err == nil {
		status.MaskedKey = maskKey(plain)
	} else {
		slog.Warn("plugin key cannot be decrypted",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
	return status, nil
}

// DeleteKey removes the user's credential.
func (s *pluginService) DeleteKey(ctx context.Context, userID int64) error {
	deleted, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !deleted {
		return apperror.NewNotFound("plug-in API key not configured")
	}
	slog.Info("plugin key deleted", slog.Int64("user_id", userID))
	return nil
}

// Credential returns the user's decrypted key. Users without an active
// credential are forbidden from the proxy.
func (s *pluginService) Credential(ctx context.Context, userID int64) (string, error) {
	cred, err := s.repo.FindByUserID(ctx, userID)
	if apperror.Is(err, apperror.TypeNotFound) {
		return "", apperror.NewForbidden("plug-in API key not configured")
	}
	if err != nil {
		return "", apperror.NewInternal(err)
	}
	if !cred.IsActive {
		return "", apperror.NewForbidden("plug-in API key is disabled")
	}

	plain, err := s.cipher.Decrypt(cred.EncryptedKey)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("decrypting plugin key for user %d: %w", userID, err))
	}
	return plain, nil
}

// Touch records use of the credential. Failures are logged only.
func (s *pluginService) Touch(ctx context.Context, userID int64) {
	if err := s.repo.TouchLastUsed(ctx, userID); err != nil {
		slog.Warn("failed to record plugin key use",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// Provision creates an account for the user on the downstream API with
// the admin key and stores the credential it returns.
func (s *pluginService) Provision(ctx context.Context, userID int64, username string, preferShared int) (*KeyStatus, error) {
	if s.cfg.AdminKey == "" {
		return nil, apperror.NewUnavailable(fmt.Errorf("plugin admin key is not configured"))
	}
	if preferShared != 0 && preferShared != 1 {
		return nil, apperror.NewValidation("prefer_shared must be 0 or 1")
	}

	body, err := json.Marshal(provisionPayload{Name: username, PreferShared: preferShared})
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/users", bytes.NewReader(body))
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.AdminKey)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("provisioning plugin user: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("reading provisioning response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("plugin user provisioning rejected",
			slog.Int64("user_id", userID),
			slog.Int("status", resp.StatusCode),
			slog.String("response", string(raw)),
		)
		return nil, apperror.NewUnavailable(fmt.Errorf("plugin API returned status %d", resp.StatusCode))
	}

	var result provisionResult
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil || result.Data.APIKey == "" {
		return nil, apperror.NewUnavailable(fmt.Errorf("plugin API returned no api key"))
	}

	pluginUserID := ""
	if result.Data.UserID != nil {
		pluginUserID = fmt.Sprint(result.Data.UserID)
	}
	return s.SaveKey(ctx, userID, result.Data.APIKey, pluginUserID)
}

// maskKey keeps enough of a key to recognize it.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/password"
	"github.com/keyxmakerx/portcullis/internal/statestore"
	"github.com/keyxmakerx/portcullis/internal/token"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn          func(ctx context.Context, user *User) error
	findByIDFn        func(ctx context.Context, id int64) (*User, error)
	findByUsernameFn  func(ctx context.Context, username string) (*User, error)
	findByOAuthIDFn   func(ctx context.Context, oauthID string) (*User, error)
	usernameExistsFn  func(ctx context.Context, username string) (bool, error)
	upsertExternalFn  func(ctx context.Context, ident ExternalIdentity) (*User, error)
	updateLastLoginFn func(ctx context.Context, id int64) error
	updatePasswordFn  func(ctx context.Context, id int64, hash string) error
	setActiveFn       func(ctx context.Context, id int64, active bool) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	user.ID = 1
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByOAuthID(ctx context.Context, oauthID string) (*User, error) {
	if m.findByOAuthIDFn != nil {
		return m.findByOAuthIDFn(ctx, oauthID)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	if m.usernameExistsFn != nil {
		return m.usernameExistsFn(ctx, username)
	}
	return false, nil
}

func (m *mockUserRepo) UpsertExternal(ctx context.Context, ident ExternalIdentity) (*User, error) {
	if m.upsertExternalFn != nil {
		return m.upsertExternalFn(ctx, ident)
	}
	oauthID := ident.OAuthID
	return &User{ID: 77, Username: ident.Username, OAuthID: &oauthID, IsActive: true}, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id int64) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, hash)
	}
	return nil
}

func (m *mockUserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

// --- Test Helpers ---

type testEnv struct {
	svc   *authService
	repo  *mockUserRepo
	store *statestore.Store
	mr    *miniredis.Miniredis
	codec *token.Codec
}

// newTestEnv wires an authService to a mock repo and a miniredis-backed
// state store.
func newTestEnv(t *testing.T, repo *mockUserRepo) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := token.NewCodec(token.Config{
		Secret:     "unit-test-secret-key-0123456789abcdef",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	store := statestore.New(rdb)
	svc := NewAuthService(repo, store, codec, 24*time.Hour, true).(*authService)
	return &testEnv{svc: svc, repo: repo, store: store, mr: mr, codec: codec}
}

// assertAppError checks that err is an *apperror.AppError of the expected kind.
func assertAppError(t *testing.T, err error, expectedType string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", expectedType)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Type != expectedType {
		t.Errorf("expected type %s, got %s (message: %s)", expectedType, appErr.Type, appErr.Message)
	}
}

func mustHash(t *testing.T, pw string) *string {
	t.Helper()
	h, err := password.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return &h
}

func userFixture(t *testing.T, active bool) *User {
	return &User{
		ID:           5,
		Username:     "alice",
		PasswordHash: mustHash(t, "correct-password"),
		IsActive:     active,
	}
}

// --- Authenticate Tests ---

func TestAuthenticate_Success(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			if username != "alice" {
				t.Errorf("username = %q, want trimmed alice", username)
			}
			return u, nil
		},
	})

	got, err := env.svc.Authenticate(context.Background(), "  alice ", "correct-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 5 {
		t.Errorf("ID = %d, want 5", got.ID)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{})
	_, err := env.svc.Authenticate(context.Background(), "nobody", "pw")
	assertAppError(t, err, apperror.TypeInvalidCredentials)
}

func TestAuthenticate_NoPasswordSet(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			oauth := "github:1"
			return &User{ID: 1, Username: username, OAuthID: &oauth, IsActive: true}, nil
		},
	})
	_, err := env.svc.Authenticate(context.Background(), "octo", "anything")
	assertAppError(t, err, apperror.TypeInvalidCredentials)
	if !strings.Contains(apperror.SafeMessage(err), "identity provider") {
		t.Errorf("message should point at provider login, got %q", apperror.SafeMessage(err))
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
	})
	_, err := env.svc.Authenticate(context.Background(), "alice", "wrong-password")
	assertAppError(t, err, apperror.TypeInvalidCredentials)

	// Every single-character change to the correct password is rejected.
	const pw = "correct-password"
	for i := range pw {
		mutated := []byte(pw)
		mutated[i] ^= 0x01
		_, err := env.svc.Authenticate(context.Background(), "alice", string(mutated))
		if !apperror.Is(err, apperror.TypeInvalidCredentials) {
			t.Errorf("password mutated at %d (%q): got %v, want invalid credentials", i, mutated, err)
		}
	}
}

func TestAuthenticate_DisabledAfterPasswordCheck(t *testing.T) {
	u := userFixture(t, false)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
	})

	_, err := env.svc.Authenticate(context.Background(), "alice", "correct-password")
	assertAppError(t, err, apperror.TypeAccountDisabled)

	// A wrong password on a disabled account still reads as bad credentials.
	_, err = env.svc.Authenticate(context.Background(), "alice", "wrong")
	assertAppError(t, err, apperror.TypeInvalidCredentials)
}

func TestAuthenticate_RepoFailure(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return nil, errors.New("connection refused")
		},
	})
	_, err := env.svc.Authenticate(context.Background(), "alice", "pw")
	assertAppError(t, err, apperror.TypeInternal)
}

func TestAuthenticate_UpgradesBcryptHash(t *testing.T) {
	legacy, _ := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	legacyStr := string(legacy)
	var upgraded string
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			return &User{ID: 3, Username: username, PasswordHash: &legacyStr, IsActive: true}, nil
		},
		updatePasswordFn: func(ctx context.Context, id int64, hash string) error {
			upgraded = hash
			return nil
		},
	})

	if _, err := env.svc.Authenticate(context.Background(), "legacy", "old-password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(upgraded, "$argon2id$") {
		t.Errorf("expected argon2id upgrade, got %q", upgraded)
	}
}

// --- Token Tests ---

func TestIssueAndResolve(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*User, error) {
			if id != u.ID {
				return nil, apperror.NewNotFound("user not found")
			}
			return u, nil
		},
	})

	tok, err := env.svc.IssueToken(u, nil)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := env.svc.ResolveUser(context.Background(), tok)
	if err != nil {
		t.Fatalf("ResolveUser: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("resolved user %d, want %d", got.ID, u.ID)
	}
}

func TestResolveUser_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("garbage", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		_, err := env.svc.ResolveUser(ctx, "not.a.token")
		assertAppError(t, err, apperror.TypeInvalidToken)
	})

	t.Run("user deleted", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		tok, _ := env.codec.Issue(999, "ghost", nil)
		_, err := env.svc.ResolveUser(ctx, tok)
		assertAppError(t, err, apperror.TypeUserNotFound)
	})

	t.Run("user disabled", func(t *testing.T) {
		u := userFixture(t, true)
		env := newTestEnv(t, &mockUserRepo{
			findByIDFn: func(ctx context.Context, id int64) (*User, error) {
				copied := *u
				return &copied, nil
			},
		})
		tok, _ := env.codec.Issue(u.ID, u.Username, nil)

		if _, err := env.svc.VerifyToken(ctx, tok); err != nil {
			t.Fatalf("VerifyToken before disable: %v", err)
		}
		if _, err := env.svc.ResolveUser(ctx, tok); err != nil {
			t.Fatalf("ResolveUser before disable: %v", err)
		}

		u.IsActive = false
		if _, err := env.svc.VerifyToken(ctx, tok); err != nil {
			t.Errorf("token itself stays valid after disable: %v", err)
		}
		_, err := env.svc.ResolveUser(ctx, tok)
		assertAppError(t, err, apperror.TypeAccountDisabled)
	})

	t.Run("refresh token presented as access", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		tok, _ := env.codec.IssueRefresh(5, "alice")
		_, err := env.svc.ResolveUser(ctx, tok)
		assertAppError(t, err, apperror.TypeInvalidToken)
	})
}

func TestVerifyToken_BlacklistFailsClosed(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{})
	tok, _ := env.codec.Issue(1, "a", nil)

	env.mr.Close()
	_, err := env.svc.VerifyToken(context.Background(), tok)
	assertAppError(t, err, apperror.TypeUnavailable)
}

// --- Revocation Tests ---

func TestRevoke_BlacklistsForRemainingLifetime(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*User, error) { return u, nil },
	})
	ctx := context.Background()
	tok, _ := env.svc.IssueToken(u, nil)

	ok, err := env.svc.Revoke(ctx, tok)
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v", ok, err)
	}

	_, err = env.svc.VerifyToken(ctx, tok)
	assertAppError(t, err, apperror.TypeTokenBlacklisted)

	jti := env.codec.TokenID(tok)
	if ttl := env.mr.TTL("blacklist:" + jti); ttl <= 0 || ttl > time.Hour {
		t.Errorf("blacklist ttl = %v, want (0, 1h]", ttl)
	}

	// A second token for the same user is unaffected.
	other, _ := env.svc.IssueToken(u, nil)
	if _, err := env.svc.VerifyToken(ctx, other); err != nil {
		t.Errorf("unrelated token rejected: %v", err)
	}
}

func TestRevoke_BlacklistTTLBoundedByRemainingLifetime(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{})

	// Same secret as the service codec, so only the lifetime differs.
	short, err := token.NewCodec(token.Config{
		Secret:     "unit-test-secret-key-0123456789abcdef",
		AccessTTL:  10 * time.Second,
		RefreshTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	tok, _ := short.Issue(1, "a", nil)

	ok, err := env.svc.Revoke(context.Background(), tok)
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v", ok, err)
	}
	ttl := env.mr.TTL("blacklist:" + env.codec.TokenID(tok))
	if ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("blacklist ttl = %v, want (0, 10s]", ttl)
	}
}

func TestRevoke_ExpiredTokenIsNoop(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{})

	past, err := token.NewCodec(token.Config{
		Secret:     "unit-test-secret-key-0123456789abcdef",
		AccessTTL:  time.Nanosecond,
		RefreshTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	tok, _ := past.Issue(1, "a", nil)
	time.Sleep(1100 * time.Millisecond)

	ok, err := env.svc.Revoke(context.Background(), tok)
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v; want true, nil", ok, err)
	}
	if keys := env.mr.Keys(); len(keys) != 0 {
		t.Errorf("expected no blacklist entry, found %v", keys)
	}
}

func TestRevoke_Undecodable(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{})
	ok, err := env.svc.Revoke(context.Background(), "garbage")
	if err != nil || ok {
		t.Fatalf("Revoke = %v, %v; want false, nil", ok, err)
	}
}

// --- Login / Logout Tests ---

func TestLogin_CreatesSession(t *testing.T) {
	u := userFixture(t, true)
	var lastLoginCalled bool
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn:  func(ctx context.Context, username string) (*User, error) { return u, nil },
		updateLastLoginFn: func(ctx context.Context, id int64) error { lastLoginCalled = true; return nil },
	})
	ctx := context.Background()

	result, err := env.svc.Login(ctx, "alice", "correct-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !lastLoginCalled {
		t.Error("expected last login to be updated")
	}
	if result.TokenType != "bearer" || result.ExpiresIn != 3600 {
		t.Errorf("pair = %+v", result.TokenPair)
	}
	if result.RefreshToken == "" {
		t.Error("expected refresh token")
	}

	session, err := env.svc.GetSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Token != result.AccessToken {
		t.Error("session should hold the issued access token")
	}
	if ttl := env.mr.TTL("session:5"); ttl != 24*time.Hour {
		t.Errorf("session ttl = %v, want 24h", ttl)
	}
}

func TestLogin_SecondLoginReplacesSession(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
	})
	ctx := context.Background()

	_, _ = env.svc.Login(ctx, "alice", "correct-password")
	second, err := env.svc.Login(ctx, "alice", "correct-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	session, _ := env.svc.GetSession(ctx, u.ID)
	if session.Token != second.AccessToken {
		t.Error("last login should win")
	}
}

func TestLogin_LastLoginFailureAborts(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn:  func(ctx context.Context, username string) (*User, error) { return u, nil },
		updateLastLoginFn: func(ctx context.Context, id int64) error { return errors.New("db down") },
	})
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "alice", "correct-password")
	assertAppError(t, err, apperror.TypeInternal)

	if _, err := env.svc.GetSession(ctx, u.ID); !apperror.Is(err, apperror.TypeNotFound) {
		t.Errorf("expected no session, got %v", err)
	}
}

func TestLogin_SessionStoreDownStillLogsIn(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
	})
	env.mr.Close()

	result, err := env.svc.Login(context.Background(), "alice", "correct-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.AccessToken == "" {
		t.Error("expected token despite session write failure")
	}
}

func TestLogin_CancelledContextWritesNoSession(t *testing.T) {
	u := userFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
		updateLastLoginFn: func(ctx context.Context, id int64) error {
			cancel()
			return nil
		},
	})

	_, err := env.svc.Login(ctx, "alice", "correct-password")
	if err == nil {
		t.Fatal("expected error for cancelled login")
	}
	if env.mr.Exists("session:5") {
		t.Error("cancelled login must not write a session")
	}
}

func TestLogout_EndsSessionAndRevokes(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) { return u, nil },
		findByIDFn:       func(ctx context.Context, id int64) (*User, error) { return u, nil },
	})
	ctx := context.Background()

	result, _ := env.svc.Login(ctx, "alice", "correct-password")
	if err := env.svc.Logout(ctx, u.ID, result.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := env.svc.GetSession(ctx, u.ID); !apperror.Is(err, apperror.TypeNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
	_, err := env.svc.ResolveUser(ctx, result.AccessToken)
	assertAppError(t, err, apperror.TypeTokenBlacklisted)
}

// --- Refresh Tests ---

func TestRefresh(t *testing.T) {
	u := userFixture(t, true)
	env := newTestEnv(t, &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*User, error) { return u, nil },
	})
	ctx := context.Background()

	pair, _ := env.svc.IssueTokenPair(u)
	result, err := env.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if result.AccessToken == pair.AccessToken {
		t.Error("expected a fresh access token")
	}

	_, err = env.svc.Refresh(ctx, pair.AccessToken)
	assertAppError(t, err, apperror.TypeInvalidToken)
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	var created *User
	env := newTestEnv(t, &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			user.ID = 10
			created = user
			return nil
		},
	})

	user, err := env.svc.Register(context.Background(), RegisterInput{Username: " newbie ", Password: "secure-password-123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID != 10 || created.Username != "newbie" {
		t.Errorf("user = %+v", user)
	}
	if !created.HasPassword() || !password.Verify("secure-password-123", *created.PasswordHash) {
		t.Error("expected stored argon2id hash")
	}
	if !created.IsActive {
		t.Error("new accounts should be active")
	}
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{
			usernameExistsFn: func(ctx context.Context, username string) (bool, error) { return true, nil },
		})
		_, err := env.svc.Register(ctx, RegisterInput{Username: "taken", Password: "secure-password-123"})
		assertAppError(t, err, apperror.TypeConflict)
	})

	t.Run("short password", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		_, err := env.svc.Register(ctx, RegisterInput{Username: "someone", Password: "short"})
		assertAppError(t, err, apperror.TypeValidation)
	})

	t.Run("colon in username", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		_, err := env.svc.Register(ctx, RegisterInput{Username: "github:1", Password: "secure-password-123"})
		assertAppError(t, err, apperror.TypeValidation)
	})

	t.Run("markup in username", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		_, err := env.svc.Register(ctx, RegisterInput{Username: "<b>bold</b>", Password: "secure-password-123"})
		assertAppError(t, err, apperror.TypeValidation)
	})

	t.Run("creation disabled", func(t *testing.T) {
		env := newTestEnv(t, &mockUserRepo{})
		env.svc.allowNewAccounts = false
		_, err := env.svc.Register(ctx, RegisterInput{Username: "someone", Password: "secure-password-123"})
		assertAppError(t, err, apperror.TypeAccountCreationDisabled)
	})
}

// --- External Identity Tests ---

func TestUpsertExternalUser_CreationDisabled(t *testing.T) {
	ctx := context.Background()
	ident := ExternalIdentity{OAuthID: "github:42", Username: "octo"}

	env := newTestEnv(t, &mockUserRepo{
		upsertExternalFn: func(ctx context.Context, ident ExternalIdentity) (*User, error) {
			t.Error("upsert must not run when creation is disabled and the user is new")
			return nil, nil
		},
	})
	env.svc.allowNewAccounts = false

	_, err := env.svc.UpsertExternalUser(ctx, ident)
	assertAppError(t, err, apperror.TypeAccountCreationDisabled)
}

func TestUpsertExternalUser_ExistingWhileCreationDisabled(t *testing.T) {
	ctx := context.Background()
	ident := ExternalIdentity{OAuthID: "github:42", Username: "octo"}

	env := newTestEnv(t, &mockUserRepo{
		findByOAuthIDFn: func(ctx context.Context, oauthID string) (*User, error) {
			return &User{ID: 8, Username: "octo", IsActive: true}, nil
		},
	})
	env.svc.allowNewAccounts = false

	user, err := env.svc.UpsertExternalUser(ctx, ident)
	if err != nil {
		t.Fatalf("UpsertExternalUser: %v", err)
	}
	if user.Username != "octo" {
		t.Errorf("username = %q", user.Username)
	}
}

func TestUpsertExternalUser_Disabled(t *testing.T) {
	env := newTestEnv(t, &mockUserRepo{
		upsertExternalFn: func(ctx context.Context, ident ExternalIdentity) (*User, error) {
			return &User{ID: 9, IsActive: false}, nil
		},
	})
	_, err := env.svc.UpsertExternalUser(context.Background(), ExternalIdentity{OAuthID: "github:9"})
	assertAppError(t, err, apperror.TypeAccountDisabled)
}

package users

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eramirez/carbid/pkg/auth"
	"github.com/eramirez/carbid/pkg/events"
)

// --- fakes ---

type stubTx struct {
	pgx.Tx
}

func (stubTx) Commit(context.Context) error   { return nil }
func (stubTx) Rollback(context.Context) error { return nil }

type fakeTxManager struct{}

func (fakeTxManager) BeginTx(context.Context) (pgx.Tx, error) { return stubTx{}, nil }

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*User)}
}

func (r *fakeUserRepo) CreateUser(_ context.Context, _ pgx.Tx, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) ListUsers(_ context.Context) ([]*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		clone := *user
		list = append(list, &clone)
	}
	return list, nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, id uuid.UUID, username, email, fullName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.users[id]
	user.Username = username
	user.Email = email
	user.FullName = fullName
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].LastLoginAt = &at
	return nil
}

func (r *fakeUserRepo) SetMFAEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].MFAEnabled = enabled
	return nil
}

func (r *fakeUserRepo) SetRecoveryToken(_ context.Context, id uuid.UUID, hash []byte, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].RecoveryTokenHash = hash
	r.users[id].RecoveryExpiresAt = &expiresAt
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].PasswordHash = passwordHash
	r.users[id].RecoveryTokenHash = nil
	r.users[id].RecoveryExpiresAt = nil
	return nil
}

func (r *fakeUserRepo) UsernameInUse(_ context.Context, username string, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.Username == username && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) EmailInUse(_ context.Context, email string, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.Email == email && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []*events.OutboxEvent
}

func (f *fakeOutbox) SaveEvent(_ context.Context, _ pgx.Tx, event *events.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string // bodies
	to   []string
}

func (f *fakeMailer) Send(_ context.Context, to, _, textBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.sent = append(f.sent, textBody)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo, *fakeOutbox, *fakeMailer) {
	t.Helper()
	signer, err := auth.NewSigner([]byte("unit-test-secret-at-least-32-bytes!!"), "carbid-test")
	require.NoError(t, err)

	repo := newFakeUserRepo()
	outbox := &fakeOutbox{}
	mailer := &fakeMailer{}
	svc := NewService(repo, outbox, fakeTxManager{}, signer, mailer, Config{
		AccessTokenTTL:   10 * time.Minute,
		MFATokenTTL:      5 * time.Minute,
		RecoveryTokenTTL: time.Hour,
		TOTPIssuer:       "carbid-test",
	})
	return svc, repo, outbox, mailer
}

func register(t *testing.T, svc *Service, username string) (*User, *MFASetup) {
	t.Helper()
	user, setup, err := svc.Register(context.Background(), RegisterCommand{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse",
		FullName: "Test User",
	})
	require.NoError(t, err)
	return user, setup
}

// --- tests ---

func TestRegister(t *testing.T) {
	svc, _, outbox, _ := newTestService(t)

	user, setup := register(t, svc, "alice")

	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, RoleUser, user.Role)
	assert.False(t, user.MFAEnabled, "mfa stays off until verified")
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OtpauthURL, "otpauth://totp/")
	assert.Contains(t, setup.QRDataURL, "data:image/png;base64,")

	require.Len(t, outbox.events, 1)
	assert.Equal(t, events.TypeUserRegistered, outbox.events[0].EventType)
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name string
		cmd  RegisterCommand
	}{
		{name: "missing username", cmd: RegisterCommand{Email: "a@b.c", Password: "longenough", FullName: "A"}},
		{name: "missing email", cmd: RegisterCommand{Username: "a", Password: "longenough", FullName: "A"}},
		{name: "short password", cmd: RegisterCommand{Username: "a", Email: "a@b.c", Password: "short", FullName: "A"}},
		{name: "malformed email", cmd: RegisterCommand{Username: "a", Email: "not-an-email", Password: "longenough", FullName: "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	register(t, svc, "alice")

	_, _, err := svc.Register(context.Background(), RegisterCommand{
		Username: "alice", Email: "other@example.com", Password: "longenough", FullName: "A",
	})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, _, err = svc.Register(context.Background(), RegisterCommand{
		Username: "alice2", Email: "alice@example.com", Password: "longenough", FullName: "A",
	})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestLogin_WithoutMFA(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	user, _ := register(t, svc, "alice")

	result, err := svc.Login(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	assert.False(t, result.MFARequired)
	assert.NotEmpty(t, result.AccessToken)

	stored, err := repo.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	register(t, svc, "alice")

	_, err := svc.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_MFAStepUp(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	_, setup := register(t, svc, "alice")

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyMFA(ctx, "alice", code))

	// With MFA enabled, login yields a challenge instead of an access token.
	challenge, err := svc.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.True(t, challenge.MFARequired)
	assert.NotEmpty(t, challenge.TempToken)
	assert.Empty(t, challenge.AccessToken)

	// A fresh code completes the step-up.
	code, err = totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	result, err := svc.LoginMFA(ctx, challenge.TempToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	// A bad code does not.
	_, err = svc.LoginMFA(ctx, challenge.TempToken, "000000")
	assert.ErrorIs(t, err, ErrInvalidMFACode)
}

func TestLoginMFA_RejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	register(t, svc, "alice")

	// An access token must not pass where a step-up token is expected.
	result, err := svc.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	_, err = svc.LoginMFA(ctx, result.AccessToken, "123456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyMFA_EnablesOnFirstSuccess(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	user, setup := register(t, svc, "alice")

	assert.ErrorIs(t, svc.VerifyMFA(ctx, "alice", "000000"), ErrInvalidMFACode)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyMFA(ctx, "alice", code))

	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.MFAEnabled)
}

func TestRecoveryFlow(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, mailer := newTestService(t)
	user, _ := register(t, svc, "alice")

	methods, err := svc.RequestRecovery(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, methods.Email)
	require.Len(t, mailer.to, 1)
	assert.Equal(t, "alice@example.com", mailer.to[0])

	// The mailed token is the only copy; the repo holds just a hash.
	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.RecoveryTokenHash)
	token := extractToken(t, mailer.sent[0])
	assert.NotContains(t, string(stored.RecoveryTokenHash), token)

	require.NoError(t, svc.VerifyRecovery(ctx, "alice", token))
	assert.ErrorIs(t, svc.VerifyRecovery(ctx, "alice", "bogus"), ErrInvalidRecovery)

	require.NoError(t, svc.ResetPassword(ctx, token, "new-password-1"))

	// Old password is out, new one works, and the token is spent.
	_, err = svc.Login(ctx, "alice", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "alice", "new-password-1")
	assert.NoError(t, err)
	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "another-password"), ErrInvalidRecovery)
}

func TestResetPassword_ShortPassword(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	err := svc.ResetPassword(context.Background(), "whatever", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	alice, _ := register(t, svc, "alice")
	register(t, svc, "bob")

	// Only the account owner may update.
	err := svc.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: alice.ID, CallerID: uuid.New(),
		Username: "alice", Email: "alice@example.com", FullName: "Alice",
	})
	assert.ErrorIs(t, err, ErrForbidden)

	// Conflicts with other accounts are rejected.
	err = svc.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: alice.ID, CallerID: alice.ID,
		Username: "bob", Email: "alice@example.com", FullName: "Alice",
	})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	err = svc.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: alice.ID, CallerID: alice.ID,
		Username: "alice", Email: "bob@example.com", FullName: "Alice",
	})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	// Keeping your own username while changing the rest is fine.
	err = svc.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: alice.ID, CallerID: alice.ID,
		Username: "alice", Email: "alice.new@example.com", FullName: "Alice Cooper",
	})
	require.NoError(t, err)

	updated, err := svc.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice.new@example.com", updated.Email)
	assert.Equal(t, "Alice Cooper", updated.FullName)
}

func TestDisplayName(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	alice, _ := register(t, svc, "alice")

	name, err := svc.DisplayName(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = svc.DisplayName(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// extractToken pulls the recovery token out of the mail body.
func extractToken(t *testing.T, body string) string {
	t.Helper()
	const marker = "recovery code is: "
	idx := strings.Index(body, marker)
	require.GreaterOrEqual(t, idx, 0, "mail body missing recovery code")
	token := body[idx+len(marker):]
	if end := strings.IndexByte(token, '\n'); end >= 0 {
		token = token[:end]
	}
	return token
}

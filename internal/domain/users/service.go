package users

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/eramirez/carbid/pkg/auth"
	"github.com/eramirez/carbid/pkg/database"
	"github.com/eramirez/carbid/pkg/events"
	"github.com/eramirez/carbid/pkg/mail"
)

var (
	ErrUserAlreadyExists  = errors.New("username already in use")
	ErrEmailAlreadyExists = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrMFANotConfigured   = errors.New("mfa not configured for this user")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrInvalidRecovery    = errors.New("invalid or expired recovery code")
	ErrForbidden          = errors.New("not allowed to modify this user")
)

// Config carries the token lifetimes and TOTP issuer injected from process
// configuration.
type Config struct {
	AccessTokenTTL   time.Duration
	MFATokenTTL      time.Duration
	RecoveryTokenTTL time.Duration
	TOTPIssuer       string
}

// Service implements registration, login with MFA step-up, account recovery
// and profile management. It also acts as the identity resolver for the bid
// engine.
type Service struct {
	userRepo   UserRepository
	outboxRepo OutboxRepository
	txManager  database.TransactionManager
	signer     *auth.Signer
	mailer     mail.Mailer
	cfg        Config
}

func NewService(
	userRepo UserRepository,
	outboxRepo OutboxRepository,
	txManager database.TransactionManager,
	signer *auth.Signer,
	mailer mail.Mailer,
	cfg Config,
) *Service {
	return &Service{
		userRepo:   userRepo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		signer:     signer,
		mailer:     mailer,
		cfg:        cfg,
	}
}

func validateRegistration(cmd RegisterCommand) error {
	if strings.TrimSpace(cmd.Username) == "" ||
		strings.TrimSpace(cmd.Email) == "" ||
		strings.TrimSpace(cmd.FullName) == "" ||
		cmd.Password == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if len(cmd.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if !strings.Contains(cmd.Email, "@") {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return nil
}

// Register creates an account with a TOTP secret already provisioned. MFA
// stays disabled until the user proves possession via VerifyMFA.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, *MFASetup, error) {
	if err := validateRegistration(cmd); err != nil {
		return nil, nil, err
	}

	existing, err := s.userRepo.GetUserByUsername(ctx, cmd.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, nil, ErrUserAlreadyExists
	}

	taken, err := s.userRepo.EmailInUse(ctx, cmd.Email, uuid.Nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing email: %w", err)
	}
	if taken {
		return nil, nil, ErrEmailAlreadyExists
	}

	hash, err := auth.HashPassword(cmd.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	totpKey, err := auth.GenerateTOTPKey(s.cfg.TOTPIssuer, cmd.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	qrPNG, err := qrcode.Encode(totpKey.OtpauthURL, qrcode.Medium, 256)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode enrollment qr: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:           uuid.New(),
		Username:     cmd.Username,
		Email:        cmd.Email,
		PasswordHash: hash,
		FullName:     cmd.FullName,
		Role:         RoleUser,
		MFASecret:    totpKey.Secret,
		MFAEnabled:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := s.userRepo.CreateUser(ctx, tx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	payload, err := json.Marshal(events.UserRegisteredEvent{
		UserID:    user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.TypeUserRegistered,
		Payload:   payload,
		Status:    events.OutboxStatusPending,
		CreatedAt: now,
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return nil, nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	setup := &MFASetup{
		Secret:     totpKey.Secret,
		OtpauthURL: totpKey.OtpauthURL,
		QRDataURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG),
	}
	return user, setup, nil
}

// Login verifies credentials. Accounts with MFA enabled get a short-lived
// step-up token instead of an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := auth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, ErrInvalidCredentials
	}

	if user.MFAEnabled {
		temp, err := s.signer.Generate(user.ID, user.Username, user.Role, auth.ScopeMFA, s.cfg.MFATokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to generate mfa token: %w", err)
		}
		return &LoginResult{MFARequired: true, TempToken: temp, User: user}, nil
	}

	return s.issueAccessToken(ctx, user)
}

// LoginMFA completes an MFA step-up: the temporary token from Login plus a
// valid TOTP code yield the final access token.
func (s *Service) LoginMFA(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	claims, err := s.signer.Validate(tempToken, auth.ScopeMFA)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !auth.VerifyTOTP(user.MFASecret, code) {
		return nil, ErrInvalidMFACode
	}

	return s.issueAccessToken(ctx, user)
}

func (s *Service) issueAccessToken(ctx context.Context, user *User) (*LoginResult, error) {
	token, err := s.signer.Generate(user.ID, user.Username, user.Role, auth.ScopeAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	return &LoginResult{AccessToken: token, User: user}, nil
}

// VerifyMFA checks a TOTP code and enables MFA on the first success.
func (s *Service) VerifyMFA(ctx context.Context, username, code string) error {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.MFASecret == "" {
		return ErrMFANotConfigured
	}

	if !auth.VerifyTOTP(user.MFASecret, code) {
		return ErrInvalidMFACode
	}

	if !user.MFAEnabled {
		if err := s.userRepo.SetMFAEnabled(ctx, user.ID, true); err != nil {
			return fmt.Errorf("failed to enable mfa: %w", err)
		}
	}
	return nil
}

// RequestRecovery issues a recovery token, stores only its hash, and mails
// the token to the account's address.
func (s *Service) RequestRecovery(ctx context.Context, username string) (*RecoveryMethods, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	token, err := s.signer.Generate(user.ID, user.Username, user.Role, auth.ScopeRecovery, s.cfg.RecoveryTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery token: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.RecoveryTokenTTL)
	if err := s.userRepo.SetRecoveryToken(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store recovery token: %w", err)
	}

	methods := &RecoveryMethods{Email: user.Email != ""}
	if methods.Email {
		body := fmt.Sprintf("Your account recovery code is: %s\n\nThe code expires in %s.", token, s.cfg.RecoveryTokenTTL)
		if err := s.mailer.Send(ctx, user.Email, "Account recovery code", body); err != nil {
			return nil, fmt.Errorf("failed to send recovery mail: %w", err)
		}
	}
	return methods, nil
}

// VerifyRecovery confirms a recovery token matches the one on file and has
// not expired.
func (s *Service) VerifyRecovery(ctx context.Context, username, token string) error {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	return checkRecoveryToken(user, token)
}

// ResetPassword changes the password given a valid recovery token, then
// invalidates the token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	claims, err := s.signer.Validate(token, auth.ScopeRecovery)
	if err != nil {
		return ErrInvalidRecovery
	}
	userID, err := claims.UserID()
	if err != nil {
		return ErrInvalidRecovery
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if err := checkRecoveryToken(user, token); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func checkRecoveryToken(user *User, token string) error {
	if len(user.RecoveryTokenHash) == 0 || user.RecoveryExpiresAt == nil {
		return ErrInvalidRecovery
	}
	if time.Now().After(*user.RecoveryExpiresAt) {
		return ErrInvalidRecovery
	}
	if subtle.ConstantTimeCompare(user.RecoveryTokenHash, hashToken(token)) != 1 {
		return ErrInvalidRecovery
	}
	return nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	list, err := s.userRepo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return list, nil
}

// UpdateProfile lets a user change their own username, email and full name,
// with uniqueness enforced against everyone else.
func (s *Service) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) error {
	if cmd.CallerID != cmd.UserID {
		return ErrForbidden
	}
	if strings.TrimSpace(cmd.Username) == "" ||
		strings.TrimSpace(cmd.Email) == "" ||
		strings.TrimSpace(cmd.FullName) == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}

	user, err := s.userRepo.GetUserByID(ctx, cmd.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	taken, err := s.userRepo.UsernameInUse(ctx, cmd.Username, cmd.UserID)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		return ErrUserAlreadyExists
	}

	taken, err = s.userRepo.EmailInUse(ctx, cmd.Email, cmd.UserID)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if taken {
		return ErrEmailAlreadyExists
	}

	if err := s.userRepo.UpdateProfile(ctx, cmd.UserID, cmd.Username, cmd.Email, cmd.FullName); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// DisplayName resolves a user id to the name shown on bid records.
func (s *Service) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	return user.Username, nil
}

func hashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

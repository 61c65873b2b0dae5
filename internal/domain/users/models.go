package users

import (
	"time"

	"github.com/google/uuid"
)

const RoleUser = "user"

type User struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Username          string     `json:"username" db:"username"`
	Email             string     `json:"email" db:"email"`
	PasswordHash      string     `json:"-" db:"password_hash"` // Never return in JSON
	FullName          string     `json:"full_name" db:"full_name"`
	Role              string     `json:"role" db:"role"`
	MFASecret         string     `json:"-" db:"mfa_secret"`
	MFAEnabled        bool       `json:"mfa_enabled" db:"mfa_enabled"`
	RecoveryTokenHash []byte     `json:"-" db:"recovery_token_hash"`
	RecoveryExpiresAt *time.Time `json:"-" db:"recovery_expires_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// MFASetup is the enrollment material handed back once, at registration.
type MFASetup struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauthUrl"`
	QRDataURL  string `json:"qrCodeUrl"`
}

// LoginResult is either a ready access token or an MFA step-up challenge.
type LoginResult struct {
	MFARequired bool
	TempToken   string
	AccessToken string
	User        *User
}

// RecoveryMethods lists the channels a recovery code was (or could be) sent to.
type RecoveryMethods struct {
	Email bool `json:"email"`
}

type RegisterCommand struct {
	Username string
	Email    string
	Password string
	FullName string
}

type UpdateProfileCommand struct {
	UserID   uuid.UUID
	CallerID uuid.UUID
	Username string
	Email    string
	FullName string
}

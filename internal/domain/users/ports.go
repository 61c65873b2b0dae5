package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eramirez/carbid/pkg/events"
)

// UserRepository defines the interface for user persistence. Lookups return
// (nil, nil) when no row exists; the service decides what absence means.
type UserRepository interface {
	CreateUser(ctx context.Context, tx pgx.Tx, user *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	UpdateProfile(ctx context.Context, id uuid.UUID, username, email, fullName string) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	SetRecoveryToken(ctx context.Context, id uuid.UUID, hash []byte, expiresAt time.Time) error
	// UpdatePassword sets a new hash and clears any outstanding recovery token.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	UsernameInUse(ctx context.Context, username string, excludeID uuid.UUID) (bool, error)
	EmailInUse(ctx context.Context, email string, excludeID uuid.UUID) (bool, error)
}

// OutboxRepository persists events within the registration transaction.
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

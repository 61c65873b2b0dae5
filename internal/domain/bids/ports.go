package bids

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/eramirez/carbid/pkg/events"
)

// LedgerStore is the durable, append-only per-item bid log.
type LedgerStore interface {
	// AppendBid inserts a record within a transaction. The store assigns the
	// id and the timestamp.
	AppendBid(ctx context.Context, tx pgx.Tx, itemID string, userID uuid.UUID, amount decimal.Decimal) (*Bid, error)

	// LatestBid retrieves the most recent record for an item, or nil.
	LatestBid(ctx context.Context, itemID string) (*Bid, error)

	// LatestBidTx is LatestBid inside a transaction; used during admission
	// after LockItem so the read and the append see the same tail.
	LatestBidTx(ctx context.Context, tx pgx.Tx, itemID string) (*Bid, error)

	// BidsByItemID retrieves all records for an item, newest first.
	BidsByItemID(ctx context.Context, itemID string) ([]*Bid, error)

	// LockItem serializes admissions for one item. Held until the
	// transaction commits or rolls back; items lock independently, so bids
	// on different items never contend.
	LockItem(ctx context.Context, tx pgx.Tx, itemID string) error
}

// IdentityResolver resolves a user id to a display name.
type IdentityResolver interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// OutboxRepository persists events in the same transaction as the admission.
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

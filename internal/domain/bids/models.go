package bids

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is one immutable record in the per-item ledger. Records are created by
// admission and never updated or deleted.
type Bid struct {
	ID        uuid.UUID       `db:"id"`
	ItemID    string          `db:"item_id"`
	UserID    uuid.UUID       `db:"user_id"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// BidWithBidder is a ledger record enriched with the bidder's display name.
type BidWithBidder struct {
	Bid
	BidderName string
}

// PlaceBidCommand carries a bid submission. Amount stays a string until the
// engine validates it; the caller's raw input is what gets rejected, not a
// lossy conversion of it.
type PlaceBidCommand struct {
	ItemID string
	UserID uuid.UUID
	Amount string
}

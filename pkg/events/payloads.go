package events

import "time"

// Event types routed through the marketplace exchange.
const (
	TypeBidPlaced      = "bid.placed"
	TypeUserRegistered = "user.registered"
)

// BidPlacedEvent is emitted after a bid is durably admitted to the ledger.
type BidPlacedEvent struct {
	BidID     string    `json:"bid_id"`
	ItemID    string    `json:"item_id"`
	UserID    string    `json:"user_id"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// UserRegisteredEvent is emitted when a new account is created.
type UserRegisteredEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

package bids

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation and lookup errors
var (
	ErrMissingFields      = errors.New("item id and amount are required")
	ErrInvalidAmount      = errors.New("amount must be a positive number")
	ErrNoBids             = errors.New("no bids registered for this item")
	ErrIdentityResolution = errors.New("failed to resolve bidding user")
)

// BidTooLowError rejects a bid at or below the current floor. MinRequired is
// the latest admitted amount so clients can correct without a follow-up query.
type BidTooLowError struct {
	MinRequired decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must be greater than %s", e.MinRequired.String())
}

package bids

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eramirez/carbid/pkg/database"
	"github.com/eramirez/carbid/pkg/events"
)

// parseAmount validates and parses a submitted amount. Ordered after the
// presence check: an empty amount is missing fields, a malformed or
// non-positive one is invalid.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// validateAgainstFloor enforces the strictly increasing invariant. latest may
// be nil for a fresh item, in which case any positive amount qualifies.
func validateAgainstFloor(amount decimal.Decimal, latest *Bid) error {
	if latest != nil && amount.Cmp(latest.Amount) <= 0 {
		return &BidTooLowError{MinRequired: latest.Amount}
	}
	return nil
}

// Engine admits bids against the ledger and answers latest/history queries.
type Engine struct {
	txManager database.TransactionManager
	ledger    LedgerStore
	identity  IdentityResolver
	outbox    OutboxRepository
}

// NewEngine creates a bid engine.
func NewEngine(
	txManager database.TransactionManager,
	ledger LedgerStore,
	identity IdentityResolver,
	outbox OutboxRepository,
) *Engine {
	return &Engine{
		txManager: txManager,
		ledger:    ledger,
		identity:  identity,
		outbox:    outbox,
	}
}

// Latest returns the most recent admitted bid for an item. ErrNoBids is a
// legitimate empty state for a fresh item, not a failure.
func (e *Engine) Latest(ctx context.Context, itemID string) (*Bid, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrMissingFields
	}

	bid, err := e.ledger.LatestBid(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bid: %w", err)
	}
	if bid == nil {
		return nil, ErrNoBids
	}
	return bid, nil
}

// History returns all admitted bids for an item, newest first, each resolved
// to the bidder's display name. A record referencing a user that no longer
// exists fails the whole call: a dangling reference is ledger corruption and
// gets surfaced, not papered over.
func (e *Engine) History(ctx context.Context, itemID string) ([]*BidWithBidder, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrMissingFields
	}

	records, err := e.ledger.BidsByItemID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}

	names := make(map[uuid.UUID]string, len(records))
	result := make([]*BidWithBidder, 0, len(records))
	for _, bid := range records {
		name, ok := names[bid.UserID]
		if !ok {
			name, err = e.identity.DisplayName(ctx, bid.UserID)
			if err != nil {
				return nil, fmt.Errorf("%w: user %s: %v", ErrIdentityResolution, bid.UserID, err)
			}
			names[bid.UserID] = name
		}
		result = append(result, &BidWithBidder{Bid: *bid, BidderName: name})
	}
	return result, nil
}

// PlaceBid validates and admits a bid. The read-compare-append span runs
// inside one transaction serialized per item, so two bids racing on the same
// item cannot both pass the strictly-greater check against a stale tail.
// Exactly one durable append happens on success, zero on any rejection, and
// nothing is ever retried on the caller's behalf.
func (e *Engine) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*BidWithBidder, error) {
	if strings.TrimSpace(cmd.ItemID) == "" || strings.TrimSpace(cmd.Amount) == "" {
		return nil, ErrMissingFields
	}

	amount, err := parseAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}

	// Admission requires the bidder to exist; resolving the display name up
	// front enforces that and keeps identity I/O outside the item lock.
	bidderName, err := e.identity.DisplayName(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", ErrIdentityResolution, cmd.UserID, err)
	}

	tx, err := e.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // Rollback if commit is not called
	}()

	if err := e.ledger.LockItem(ctx, tx, cmd.ItemID); err != nil {
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}

	latest, err := e.ledger.LatestBidTx(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest bid: %w", err)
	}

	if valErr := validateAgainstFloor(amount, latest); valErr != nil {
		return nil, valErr
	}

	bid, err := e.ledger.AppendBid(ctx, tx, cmd.ItemID, cmd.UserID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	payload, err := json.Marshal(events.BidPlacedEvent{
		BidID:     bid.ID.String(),
		ItemID:    bid.ItemID,
		UserID:    bid.UserID.String(),
		Amount:    bid.Amount.String(),
		Timestamp: bid.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.TypeBidPlaced,
		Payload:   payload,
		Status:    events.OutboxStatusPending,
		CreatedAt: time.Now(),
	}
	if err := e.outbox.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
	}

	return &BidWithBidder{Bid: *bid, BidderName: bidderName}, nil
}

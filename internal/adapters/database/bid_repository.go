package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eramirez/carbid/internal/domain/bids"
	pkgdb "github.com/eramirez/carbid/pkg/database"
)

// PostgresBidRepository implements bids.LedgerStore using pgx. The bids
// table is append-only; the seq column records insertion order and breaks
// timestamp ties.
type PostgresBidRepository struct {
	pool *pgxpool.Pool // Keep pool for non-transactional reads
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// LockItem takes a transaction-scoped advisory lock keyed on the item id.
// Admissions for one item serialize here; different items hash to different
// keys and proceed in parallel. Released automatically at commit/rollback.
func (r *PostgresBidRepository) LockItem(ctx context.Context, tx pgx.Tx, itemID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, itemID)
	if err != nil {
		return fmt.Errorf("failed to lock item: %w", err)
	}
	return nil
}

// AppendBid inserts a record. The database assigns the timestamp so ordering
// is the store's, not the caller's clock.
func (r *PostgresBidRepository) AppendBid(ctx context.Context, tx pgx.Tx, itemID string, userID uuid.UUID, amount decimal.Decimal) (*bids.Bid, error) {
	query := `
		INSERT INTO bids (id, item_id, user_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	bid := &bids.Bid{
		ID:     uuid.New(),
		ItemID: itemID,
		UserID: userID,
		Amount: amount,
	}
	err := tx.QueryRow(ctx, query, bid.ID, itemID, userID, amount.String()).Scan(&bid.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}
	return bid, nil
}

// LatestBid retrieves the most recent record for an item (non-transactional
// read). Returns nil when the item has no bids.
func (r *PostgresBidRepository) LatestBid(ctx context.Context, itemID string) (*bids.Bid, error) {
	return r.latestBid(ctx, r.pool, itemID)
}

// LatestBidTx is LatestBid within a transaction, used during admission.
func (r *PostgresBidRepository) LatestBidTx(ctx context.Context, tx pgx.Tx, itemID string) (*bids.Bid, error) {
	return r.latestBid(ctx, tx, itemID)
}

func (r *PostgresBidRepository) latestBid(ctx context.Context, db pkgdb.DBTX, itemID string) (*bids.Bid, error) {
	query := `
		SELECT id, item_id, user_id, amount::text, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	bid, err := scanBid(db.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Let the engine decide what absence means
		}
		return nil, fmt.Errorf("failed to get latest bid: %w", err)
	}
	return bid, nil
}

// BidsByItemID retrieves all records for an item, newest first.
func (r *PostgresBidRepository) BidsByItemID(ctx context.Context, itemID string) ([]*bids.Bid, error) {
	query := `
		SELECT id, item_id, user_id, amount::text, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC, seq DESC
	`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*bids.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		result = append(result, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return result, nil
}

func scanBid(row pgx.Row) (*bids.Bid, error) {
	var bid bids.Bid
	var amountStr string
	if err := row.Scan(&bid.ID, &bid.ItemID, &bid.UserID, &amountStr, &bid.CreatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in ledger: %w", err)
	}
	bid.Amount = amount
	return &bid, nil
}

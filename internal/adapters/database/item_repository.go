package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eramirez/carbid/internal/domain/items"
)

// PostgresItemRepository implements items.ItemRepository using pgx
type PostgresItemRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresItemRepository(pool *pgxpool.Pool) *PostgresItemRepository {
	return &PostgresItemRepository{pool: pool}
}

func (r *PostgresItemRepository) CreateItem(ctx context.Context, item *items.Item) error {
	query := `
		INSERT INTO items (id, name, scale, deadline, images, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.Name,
		item.Scale,
		item.Deadline,
		item.Images,
		item.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert collectible: %w", err)
	}
	return nil
}

func (r *PostgresItemRepository) GetItemByName(ctx context.Context, name string) (*items.Item, error) {
	return r.getItem(ctx, `SELECT id, name, scale, deadline, images, published_at FROM items WHERE name = $1`, name)
}

func (r *PostgresItemRepository) GetItemByID(ctx context.Context, id uuid.UUID) (*items.Item, error) {
	return r.getItem(ctx, `SELECT id, name, scale, deadline, images, published_at FROM items WHERE id = $1`, id)
}

func (r *PostgresItemRepository) getItem(ctx context.Context, query string, arg any) (*items.Item, error) {
	var item items.Item
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&item.ID,
		&item.Name,
		&item.Scale,
		&item.Deadline,
		&item.Images,
		&item.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get collectible: %w", err)
	}
	return &item, nil
}

func (r *PostgresItemRepository) ListByScale(ctx context.Context, scale string) ([]*items.Item, error) {
	query := `
		SELECT id, name, scale, deadline, images, published_at
		FROM items
		WHERE scale = $1
		ORDER BY published_at DESC
	`
	rows, err := r.pool.Query(ctx, query, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to query collectibles: %w", err)
	}
	defer rows.Close()

	var result []*items.Item
	for rows.Next() {
		var item items.Item
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Scale,
			&item.Deadline,
			&item.Images,
			&item.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan collectible: %w", err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collectibles: %w", err)
	}
	return result, nil
}

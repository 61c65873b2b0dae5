package items

import (
	"context"

	"github.com/google/uuid"
)

// ItemRepository defines the interface for collectible persistence
type ItemRepository interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItemByName(ctx context.Context, name string) (*Item, error)
	GetItemByID(ctx context.Context, id uuid.UUID) (*Item, error)
	ListByScale(ctx context.Context, scale string) ([]*Item, error)
}

// ImageStore promotes uploaded temp files into an item's directory and
// returns their public paths.
type ImageStore interface {
	Promote(itemID string, tempPaths []string) ([]string, error)
	Discard(tempPaths []string)
}

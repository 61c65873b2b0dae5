package items

import (
	"time"

	"github.com/google/uuid"
)

// Item is a registered collectible open for bidding until its deadline.
type Item struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Scale       string    `db:"scale"`
	Deadline    time.Time `db:"deadline"`
	Images      []string  `db:"images"` // public /uploads paths
	PublishedAt time.Time `db:"published_at"`
}

type RegisterItemCommand struct {
	Name     string
	Scale    string
	Deadline time.Time
	// Temp file paths already written by the upload handler; promoted to the
	// item's directory once the record exists.
	TempImages []string
}

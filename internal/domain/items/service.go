package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrItemAlreadyExists = errors.New("collectible already exists")
	ErrItemNotFound      = errors.New("collectible not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// Service implements the collectible catalog.
type Service struct {
	repo   ItemRepository
	images ImageStore
}

func NewService(repo ItemRepository, images ImageStore) *Service {
	return &Service{repo: repo, images: images}
}

// Register creates a collectible with a unique name and attaches its
// uploaded images. Temp files are discarded if registration fails.
func (s *Service) Register(ctx context.Context, cmd RegisterItemCommand) (*Item, error) {
	if strings.TrimSpace(cmd.Name) == "" || strings.TrimSpace(cmd.Scale) == "" || cmd.Deadline.IsZero() {
		s.images.Discard(cmd.TempImages)
		return nil, fmt.Errorf("%w: name, scale and deadline are required", ErrInvalidInput)
	}

	existing, err := s.repo.GetItemByName(ctx, cmd.Name)
	if err != nil {
		s.images.Discard(cmd.TempImages)
		return nil, fmt.Errorf("failed to check existing collectible: %w", err)
	}
	if existing != nil {
		s.images.Discard(cmd.TempImages)
		return nil, ErrItemAlreadyExists
	}

	item := &Item{
		ID:          uuid.New(),
		Name:        cmd.Name,
		Scale:       cmd.Scale,
		Deadline:    cmd.Deadline,
		PublishedAt: time.Now(),
	}

	publicPaths, err := s.images.Promote(item.ID.String(), cmd.TempImages)
	if err != nil {
		return nil, fmt.Errorf("failed to store images: %w", err)
	}
	item.Images = publicPaths

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create collectible: %w", err)
	}
	return item, nil
}

// GetItem returns a collectible by id.
func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := s.repo.GetItemByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get collectible: %w", err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// ListByScale returns all collectibles of a given scale.
func (s *Service) ListByScale(ctx context.Context, scale string) ([]*Item, error) {
	if strings.TrimSpace(scale) == "" {
		return nil, fmt.Errorf("%w: scale is required", ErrInvalidInput)
	}
	list, err := s.repo.ListByScale(ctx, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to list collectibles: %w", err)
	}
	return list, nil
}

package collection

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("collection not found")
	ErrInvalid               = errors.New("invalid collection")
	ErrRecordNotInCollection = errors.New("record not found in this collection")
	ErrOwnerMismatch         = errors.New("record and collection have different owners")
)

type Repository interface {
	Create(ctx context.Context, c *Collection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Collection, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Collection, int, error)
	Update(ctx context.Context, c *Collection) error
	// Delete removes the collection. Records filed under it stay and lose
	// their collection id.
	Delete(ctx context.Context, id uuid.UUID) error
}

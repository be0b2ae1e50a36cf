package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	// CreateBatch inserts every record in one transaction. Either all rows
	// are written and the generated fields are filled in, or none are.
	CreateBatch(ctx context.Context, records []*Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByOwner(ctx context.Context, ownerID string, collectionID *uuid.UUID, limit, offset int) ([]*Record, int, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id uuid.UUID) error
}

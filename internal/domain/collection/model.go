package collection

import (
	"time"

	"github.com/google/uuid"
)

// Collection groups records under one owner.
type Collection struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	CreatorID   string    `db:"creator_id" json:"creator_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Patch carries the fields an update may change. Nil fields are left
// untouched; an empty description clears it.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

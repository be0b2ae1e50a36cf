package record

import (
	"time"

	"github.com/google/uuid"
)

// Record is the text extracted from one uploaded document.
type Record struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Filename     string     `db:"filename" json:"filename"`
	Content      string     `db:"content" json:"content"`
	FileSize     int64      `db:"file_size" json:"file_size"`
	FileType     string     `db:"file_type" json:"file_type"`
	OwnerID      string     `db:"owner_id" json:"owner_id"`
	CreatorID    string     `db:"creator_id" json:"creator_id"`
	CollectionID *uuid.UUID `db:"collection_id" json:"collection_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Patch carries the fields a PATCH request may change. Nil fields are left
// untouched.
type Patch struct {
	Filename *string `json:"filename,omitempty"`
	Content  *string `json:"content,omitempty"`
}

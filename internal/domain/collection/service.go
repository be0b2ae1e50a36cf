package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medrec/medrec/internal/domain/record"
	"github.com/medrec/medrec/internal/platform/auth"
)

const maxNameLength = 255

var errNoRecordStore = errors.New("collection: record store not configured")

// RecordStore is the part of the record service collections rely on. Get and
// SetCollection enforce the caller's access to the record.
type RecordStore interface {
	Get(ctx context.Context, id uuid.UUID) (*record.Record, error)
	ListInCollection(ctx context.Context, ownerID string, collectionID uuid.UUID, limit, offset int) ([]*record.Record, int, error)
	SetCollection(ctx context.Context, id uuid.UUID, collectionID *uuid.UUID) (*record.Record, error)
}

type Service struct {
	repo    Repository
	records RecordStore
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// WithRecords enables the record membership operations.
func (s *Service) WithRecords(rs RecordStore) *Service {
	s.records = rs
	return s
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalid, maxNameLength)
	}
	return name, nil
}

func (s *Service) Create(ctx context.Context, c *Collection) error {
	name, err := validName(c.Name)
	if err != nil {
		return err
	}
	c.Name = name
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return fmt.Errorf("%w: caller identity is required", ErrInvalid)
	}
	c.CreatorID = uid
	// Only admins may create a collection on behalf of someone else.
	if c.OwnerID == "" || !auth.IsAdmin(ctx) {
		c.OwnerID = uid
	}
	return s.repo.Create(ctx, c)
}

// Get returns the collection when the caller owns it or is an admin. Other
// callers get ErrNotFound rather than a permission error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Collection, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != auth.UserIDFromContext(ctx) && !auth.IsAdmin(ctx) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Collection, int, error) {
	return s.repo.ListByOwner(ctx, auth.UserIDFromContext(ctx), limit, offset)
}

// Update applies p to the collection. A blank description clears it.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Collection, error) {
	if p.Name == nil && p.Description == nil {
		return nil, fmt.Errorf("%w: name or description is required", ErrInvalid)
	}
	var name string
	if p.Name != nil {
		n, err := validName(*p.Name)
		if err != nil {
			return nil, err
		}
		name = n
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		c.Name = name
	}
	if p.Description != nil {
		if strings.TrimSpace(*p.Description) == "" {
			c.Description = nil
		} else {
			d := *p.Description
			c.Description = &d
		}
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the collection; its records are kept outside any collection.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Records lists the records filed under the collection.
func (s *Service) Records(ctx context.Context, id uuid.UUID, limit, offset int) ([]*record.Record, int, error) {
	if s.records == nil {
		return nil, 0, errNoRecordStore
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return s.records.ListInCollection(ctx, c.OwnerID, c.ID, limit, offset)
}

// AddRecord files a record under the collection. Both must belong to the
// same owner.
func (s *Service) AddRecord(ctx context.Context, id, recordID uuid.UUID) (*record.Record, error) {
	if s.records == nil {
		return nil, errNoRecordStore
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != c.OwnerID {
		return nil, ErrOwnerMismatch
	}
	return s.records.SetCollection(ctx, recordID, &c.ID)
}

// RemoveRecord takes a record out of the collection without deleting it.
func (s *Service) RemoveRecord(ctx context.Context, id, recordID uuid.UUID) error {
	if s.records == nil {
		return errNoRecordStore
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	r, err := s.records.Get(ctx, recordID)
	if errors.Is(err, record.ErrNotFound) {
		return ErrRecordNotInCollection
	}
	if err != nil {
		return err
	}
	if r.CollectionID == nil || *r.CollectionID != c.ID {
		return ErrRecordNotInCollection
	}
	_, err = s.records.SetCollection(ctx, recordID, nil)
	return err
}

// EnsureOwned fails with ErrNotFound unless collection id exists and belongs
// to ownerID.
func (s *Service) EnsureOwned(ctx context.Context, id uuid.UUID, ownerID string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.OwnerID != ownerID {
		return ErrNotFound
	}
	return nil
}

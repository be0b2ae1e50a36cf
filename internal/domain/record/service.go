package record

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medrec/medrec/internal/platform/auth"
	"github.com/medrec/medrec/internal/platform/markup"
)

const maxFilenameLength = 512

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateBatch validates every record before writing any of them and then
// persists the batch atomically.
func (s *Service) CreateBatch(ctx context.Context, records []*Record) error {
	for i, r := range records {
		if r == nil {
			return fmt.Errorf("record %d is nil", i)
		}
		if strings.TrimSpace(r.Filename) == "" {
			return fmt.Errorf("record %d: filename is required", i)
		}
		if utf8.RuneCountInString(r.Filename) > maxFilenameLength {
			return fmt.Errorf("record %d: filename must be at most %d characters", i, maxFilenameLength)
		}
		if r.OwnerID == "" {
			return fmt.Errorf("record %d: owner_id is required", i)
		}
		if r.FileSize < 0 {
			return fmt.Errorf("record %d: file_size must not be negative", i)
		}
		if r.CreatorID == "" {
			r.CreatorID = r.OwnerID
		}
	}
	return s.repo.CreateBatch(ctx, records)
}

func canAccess(ctx context.Context, r *Record) bool {
	return r.OwnerID == auth.UserIDFromContext(ctx) || auth.IsAdmin(ctx)
}

// Get returns the record when the caller owns it or is an admin.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(ctx, r) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, collectionID *uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByOwner(ctx, auth.UserIDFromContext(ctx), collectionID, limit, offset)
}

// ListInCollection lists the records ownerID filed under collectionID. The
// caller is responsible for checking access to the collection.
func (s *Service) ListInCollection(ctx context.Context, ownerID string, collectionID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByOwner(ctx, ownerID, &collectionID, limit, offset)
}

// SetCollection files the record under collectionID, or removes it from its
// collection when collectionID is nil.
func (s *Service) SetCollection(ctx context.Context, id uuid.UUID, collectionID *uuid.UUID) (*Record, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.CollectionID = collectionID
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Record, error) {
	if p.Filename == nil && p.Content == nil {
		return nil, fmt.Errorf("filename or content is required")
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Filename != nil {
		name := strings.TrimSpace(*p.Filename)
		if name == "" {
			return nil, fmt.Errorf("filename must not be empty")
		}
		if utf8.RuneCountInString(name) > maxFilenameLength {
			return nil, fmt.Errorf("filename must be at most %d characters", maxFilenameLength)
		}
		r.Filename = name
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// RenderHTML returns the record content rendered from markdown.
func (s *Service) RenderHTML(ctx context.Context, id uuid.UUID) (string, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return markup.ToHTML(r.Content)
}

package collection

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrec/medrec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type collectionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &collectionRepoPG{pool: pool}
}

func (r *collectionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const collectionCols = `id, name, description, owner_id, creator_id, created_at, updated_at`

func (r *collectionRepoPG) scan(row pgx.Row) (*Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.OwnerID, &c.CreatorID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *collectionRepoPG) Create(ctx context.Context, c *Collection) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO collections (id, name, description, owner_id, creator_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Description, c.OwnerID, c.CreatorID).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *collectionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Collection, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+collectionCols+` FROM collections WHERE id = $1`, id))
}

func (r *collectionRepoPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Collection, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM collections WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+collectionCols+` FROM collections WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Collection
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *collectionRepoPG) Update(ctx context.Context, c *Collection) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE collections SET name=$2, description=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Name, c.Description).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *collectionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

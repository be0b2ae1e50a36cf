package record

import (
	"context"
	"errors"
	"fmt"

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

type recordRepoPG struct {
	pool *pgxpool.Pool
	txs  db.TxBeginner
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool, txs: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, filename, content, file_size, file_type, owner_id, creator_id,
	collection_id, created_at, updated_at`

func (r *recordRepoPG) scan(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Content, &rec.FileSize, &rec.FileType,
		&rec.OwnerID, &rec.CreatorID, &rec.CollectionID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

const insertRecord = `
	INSERT INTO records (id, filename, content, file_size, file_type, owner_id, creator_id, collection_id)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	RETURNING id, created_at, updated_at`

func (r *recordRepoPG) CreateBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	return db.InTx(ctx, r.txs, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(insertRecord,
				uuid.New(), rec.Filename, rec.Content, rec.FileSize, rec.FileType,
				rec.OwnerID, rec.CreatorID, rec.CollectionID)
		}

		br := tx.SendBatch(ctx, batch)
		for i, rec := range records {
			if err := br.QueryRow().Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert record %d (%s): %w", i, rec.Filename, err)
			}
		}
		return br.Close()
	})
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM records WHERE id = $1`, id))
}

func (r *recordRepoPG) ListByOwner(ctx context.Context, ownerID string, collectionID *uuid.UUID, limit, offset int) ([]*Record, int, error) {
	where := ` WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if collectionID != nil {
		where += ` AND collection_id = $2`
		args = append(args, *collectionID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+recordCols+` FROM records`+where+` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE records SET filename=$2, content=$3, collection_id=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.Filename, rec.Content, rec.CollectionID).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

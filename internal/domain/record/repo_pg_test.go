package record

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// batchTx records what CreateBatch does with its transaction. Rows listed in
// failRows fail on Scan.
type batchTx struct {
	pgx.Tx
	queued    int
	commits   int
	rollbacks int
	closed    int
	failRows  map[int]error
}

func (t *batchTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.queued = b.Len()
	return &batchResults{tx: t}
}

func (t *batchTx) Commit(context.Context) error {
	t.commits++
	return nil
}

func (t *batchTx) Rollback(context.Context) error {
	t.rollbacks++
	return nil
}

type batchResults struct {
	pgx.BatchResults
	tx   *batchTx
	next int
}

func (r *batchResults) QueryRow() pgx.Row {
	i := r.next
	r.next++
	return insertedRow{err: r.tx.failRows[i]}
}

func (r *batchResults) Close() error {
	r.tx.closed++
	return nil
}

type insertedRow struct{ err error }

func (row insertedRow) Scan(dest ...any) error {
	if row.err != nil {
		return row.err
	}
	*dest[0].(*uuid.UUID) = uuid.New()
	now := time.Now()
	*dest[1].(*time.Time) = now
	*dest[2].(*time.Time) = now
	return nil
}

type txStarter struct {
	tx     *batchTx
	begins int
}

func (s *txStarter) Begin(context.Context) (pgx.Tx, error) {
	s.begins++
	return s.tx, nil
}

func batchOf(n int) []*Record {
	recs := make([]*Record, n)
	for i := range recs {
		recs[i] = &Record{Filename: "scan.png", Content: "text", FileType: "image/png", OwnerID: "u1", CreatorID: "u1"}
	}
	return recs
}

func TestRepoPG_CreateBatch_CommitsOnce(t *testing.T) {
	tx := &batchTx{}
	starter := &txStarter{tx: tx}
	repo := &recordRepoPG{txs: starter}

	recs := batchOf(3)
	if err := repo.CreateBatch(context.Background(), recs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if starter.begins != 1 || tx.queued != 3 {
		t.Errorf("expected one transaction with 3 queued inserts, got %d/%d", starter.begins, tx.queued)
	}
	if tx.commits != 1 || tx.rollbacks != 0 || tx.closed != 1 {
		t.Errorf("expected commit=1 rollback=0 close=1, got %d/%d/%d", tx.commits, tx.rollbacks, tx.closed)
	}
	for i, r := range recs {
		if r.ID == uuid.Nil || r.CreatedAt.IsZero() {
			t.Errorf("record %d: generated fields not populated", i)
		}
	}
}

func TestRepoPG_CreateBatch_RowFailureRollsBack(t *testing.T) {
	tx := &batchTx{failRows: map[int]error{1: errors.New("value too long for type character varying(512)")}}
	repo := &recordRepoPG{txs: &txStarter{tx: tx}}

	err := repo.CreateBatch(context.Background(), batchOf(3))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "insert record 1") {
		t.Errorf("expected error naming record 1, got %v", err)
	}
	if tx.commits != 0 || tx.rollbacks != 1 {
		t.Errorf("expected commit=0 rollback=1, got %d/%d", tx.commits, tx.rollbacks)
	}
	if tx.closed != 1 {
		t.Errorf("expected batch results closed once, got %d", tx.closed)
	}
}

func TestRepoPG_CreateBatch_Empty(t *testing.T) {
	starter := &txStarter{tx: &batchTx{}}
	repo := &recordRepoPG{txs: starter}
	if err := repo.CreateBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if starter.begins != 0 {
		t.Error("empty batch must not open a transaction")
	}
}

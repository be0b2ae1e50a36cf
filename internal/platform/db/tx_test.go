package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
	commitErr error
}

func (f *fakeTx) Commit(context.Context) error {
	f.commits++
	return f.commitErr
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rollbacks++
	return nil
}

type fakeBeginner struct {
	tx     *fakeTx
	begins int
	err    error
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.begins++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func TestInTx_CommitsOnce(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	var seen pgx.Tx
	err := InTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.tx.commits != 1 || b.tx.rollbacks != 0 {
		t.Errorf("expected 1 commit and 0 rollbacks, got %d/%d", b.tx.commits, b.tx.rollbacks)
	}
	if seen != b.tx {
		t.Error("expected transaction to be carried in context")
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("insert failed")
	err := InTx(context.Background(), b, func(context.Context, pgx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if b.tx.commits != 0 || b.tx.rollbacks != 1 {
		t.Errorf("expected 0 commits and 1 rollback, got %d/%d", b.tx.commits, b.tx.rollbacks)
	}
}

func TestInTx_CommitError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("serialization failure")}}
	err := InTx(context.Background(), b, func(context.Context, pgx.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected commit error")
	}
}

func TestInTx_BeginError(t *testing.T) {
	b := &fakeBeginner{err: errors.New("pool closed")}
	called := false
	err := InTx(context.Background(), b, func(context.Context, pgx.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("expected begin error without calling fn, got err=%v called=%v", err, called)
	}
}

func TestInTx_JoinsExisting(t *testing.T) {
	outer := &fakeTx{}
	ctx := ContextWithTx(context.Background(), outer)
	b := &fakeBeginner{tx: &fakeTx{}}

	err := InTx(ctx, b, func(_ context.Context, tx pgx.Tx) error {
		if tx != outer {
			t.Error("expected the outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.begins != 0 || outer.commits != 0 {
		t.Errorf("nested call must not begin or commit, got begins=%d commits=%d", b.begins, outer.commits)
	}
}

func TestInTx_NilBeginner(t *testing.T) {
	err := InTx(context.Background(), nil, func(context.Context, pgx.Tx) error { return nil })
	if !errors.Is(err, ErrNoConnection) {
		t.Errorf("expected ErrNoConnection, got %v", err)
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil, got %v", tx)
	}
}

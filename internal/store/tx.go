package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ringiflow/ringiflow/model"
)

// TxContext is an open tenant-scoped transaction. It is an opaque handle:
// callers pass it to repository methods and finish it with Commit or
// Rollback, but never touch the underlying transaction directly.
//
// Commit consumes the context; a second Commit fails. Rollback after Commit
// (or after a previous Rollback) is a no-op, so the usual pattern is safe:
//
//	tx, err := manager.Begin(ctx, tenantID)
//	if err != nil { ... }
//	defer tx.Rollback(ctx)
//	// ... repository calls ...
//	return tx.Commit(ctx)
type TxContext struct {
	tenantID model.TenantID
	pg       pgx.Tx
	mem      *memTx
	done     bool
}

// TenantID returns the tenant the transaction is bound to.
func (t *TxContext) TenantID() model.TenantID { return t.tenantID }

// Commit commits the transaction. The context is spent afterwards.
func (t *TxContext) Commit(ctx context.Context) error {
	if t.done {
		return model.NewInternalError("transaction already finished")
	}
	t.done = true
	if t.pg != nil {
		if err := t.pg.Commit(ctx); err != nil {
			return model.NewInternalError("commit transaction: " + err.Error())
		}
		return nil
	}
	t.mem.commit()
	return nil
}

// Rollback aborts the transaction. Calling it after Commit or a previous
// Rollback does nothing, which makes it safe to defer.
func (t *TxContext) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.pg != nil {
		if err := t.pg.Rollback(ctx); err != nil {
			return model.NewInternalError("rollback transaction: " + err.Error())
		}
		return nil
	}
	t.mem.rollback()
	return nil
}

// pgxTx returns the underlying pgx transaction. Postgres repositories call
// this; handing a memory-backed TxContext to a Postgres repository is a
// wiring bug, so it panics rather than degrading silently.
func (t *TxContext) pgxTx() pgx.Tx {
	if t.pg == nil {
		panic("store: TxContext is not backed by a postgres transaction")
	}
	return t.pg
}

// memTxn is the in-memory counterpart of pgxTx.
func (t *TxContext) memTxn() *memTx {
	if t.mem == nil {
		panic("store: TxContext is not backed by a memory transaction")
	}
	return t.mem
}

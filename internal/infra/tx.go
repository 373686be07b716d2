// README: Unit of work over pgx (tx carried in context) and an in-memory counterpart with per-row undo.
package infra

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnitOfWork runs fn atomically. Nested calls join the outer unit.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type pgUnitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) UnitOfWork {
	return &pgUnitOfWork{pool: pool}
}

func (u *pgUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return tx.Commit(ctx)
}

func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the tx in ctx when inside WithinTx, otherwise the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// undoLog collects compensations for the writes of one memory unit.
type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

type memTxKey struct{}

// OnRollback registers undo to run if the enclosing MemoryUnitOfWork fails.
// In-memory stores call it before each write with a func restoring the row
// they are about to change. Outside a memory unit it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	l, ok := ctx.Value(memTxKey{}).(*undoLog)
	if !ok {
		return
	}
	l.mu.Lock()
	l.steps = append(l.steps, undo)
	l.mu.Unlock()
}

// MemoryUnitOfWork serializes units and, when fn fails, undoes only the rows
// the unit wrote. Writes made outside the unit survive a rollback.
type MemoryUnitOfWork struct {
	mu sync.Mutex
}

func NewMemoryUnitOfWork() *MemoryUnitOfWork {
	return &MemoryUnitOfWork{}
}

func (u *MemoryUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(memTxKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	log := &undoLog{}
	defer func() {
		if p := recover(); p != nil {
			log.rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, memTxKey{}, log)); err != nil {
		log.rollback()
	}
	return err
}

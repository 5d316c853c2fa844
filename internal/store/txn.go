package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoTransaction is returned by EndTransaction without a matching begin.
var ErrNoTransaction = errors.New("no transaction in progress")

// ErrRolledBack is returned when the outermost EndTransaction asks to commit
// but a nested level already aborted.
var ErrRolledBack = errors.New("transaction rolled back by nested abort")

// TxState is the observable state of the nested-transaction machine.
//
//	Idle --begin--> Active(1) --begin--> Active(n+1)
//	Active(n>1) --end(commit)--> Active(n-1)
//	Active(n>1) --end(abort)--> RollbackOnly(n-1)
//	RollbackOnly(n>1) --end(any)--> RollbackOnly(n-1)
//	Active(1) --end(commit)--> Idle (COMMIT)
//	Active(1)|RollbackOnly(1) --end(abort)--> Idle (ROLLBACK)
//	RollbackOnly(1) --end(commit)--> Idle (ROLLBACK, ErrRolledBack)
type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxRollbackOnly
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxRollbackOnly:
		return "rollback-only"
	}
	return fmt.Sprintf("txstate(%d)", int(s))
}

type transaction struct {
	tx       *sql.Tx
	depth    int
	poisoned bool
	pending  []ChangeEvent
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// q routes statements through the open transaction, if any.
func (d *Database) q() querier {
	if d.txn.tx != nil {
		return d.txn.tx
	}
	return d.db
}

// TxState returns the current transaction state.
func (d *Database) TxState() TxState {
	switch {
	case d.txn.depth == 0:
		return TxIdle
	case d.txn.poisoned:
		return TxRollbackOnly
	}
	return TxActive
}

// TxDepth returns the nesting depth, 0 when idle.
func (d *Database) TxDepth() int { return d.txn.depth }

// BeginTransaction starts a transaction, or nests inside the current one.
// Every call must be balanced by EndTransaction.
func (d *Database) BeginTransaction() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.txn.depth == 0 {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		d.txn = transaction{tx: tx}
		d.logger.Debug("transaction begin")
	}
	d.txn.depth++
	return nil
}

// EndTransaction ends the innermost level. Only the outermost level touches
// SQLite; an abort at any level forces the outermost level to roll back.
// Change events queued during the transaction are delivered after a commit
// and discarded after a rollback.
func (d *Database) EndTransaction(commit bool) error {
	if d.txn.depth == 0 {
		return ErrNoTransaction
	}
	if !commit {
		d.txn.poisoned = true
	}
	d.txn.depth--
	if d.txn.depth > 0 {
		return nil
	}

	t := d.txn
	d.txn = transaction{}

	if t.poisoned {
		if err := t.tx.Rollback(); err != nil {
			d.purgeDocIDCache()
			return fmt.Errorf("rollback transaction: %w", err)
		}
		d.purgeDocIDCache()
		d.logger.Debug("transaction rolled back", "dropped_events", len(t.pending))
		if commit {
			return ErrRolledBack
		}
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		d.purgeDocIDCache()
		return fmt.Errorf("commit transaction: %w", err)
	}
	d.logger.Debug("transaction committed", "events", len(t.pending))
	for _, ev := range t.pending {
		d.deliver(ev)
	}
	return nil
}

// InTransaction runs fn inside a (possibly nested) transaction, committing
// when fn returns nil and aborting otherwise. fn's error takes precedence.
func (d *Database) InTransaction(fn func() error) error {
	if err := d.BeginTransaction(); err != nil {
		return err
	}
	err := fn()
	endErr := d.EndTransaction(err == nil)
	if err != nil {
		return err
	}
	return endErr
}

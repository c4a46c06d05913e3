package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"doodlegrid/internal/domain"
)

// sqlTx implements domain.Tx over one *sql.Tx.
type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
	d   *dialect
}

func (t *sqlTx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) exists(table, id string, arg any) (bool, error) {
	var one int
	err := t.queryRow(`SELECT 1 FROM `+table+` WHERE `+id+` = ?`, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
}

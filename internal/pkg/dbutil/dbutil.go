// Package dbutil holds the small helpers shared by the postgres repos.
package dbutil

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Rebind rewrites gendry's ? placeholders into postgres $n form.
func Rebind(query string, args []interface{}) (string, []interface{}) {
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// InTx runs fn in a transaction, committing only when fn returns nil.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

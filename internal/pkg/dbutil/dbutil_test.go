package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRebind(t *testing.T) {
	query, args := Rebind("DELETE FROM note_chunks WHERE note_id=? AND mtime<?", []interface{}{"n1", 5})
	require.Equal(t, "DELETE FROM note_chunks WHERE note_id=$1 AND mtime<$2", query)
	require.Equal(t, []interface{}{"n1", 5}, args)
}

func TestInTx(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	_, err = db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, InTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (2)")
		return err
	}))

	var sum int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COALESCE(SUM(v), 0) FROM t").Scan(&sum))
	require.Equal(t, 2, sum)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendHistory inserts entries after the pass's current last sequence
// number.  pass_history rejects UPDATE and DELETE, so entries can only
// accumulate.
//
// Must be called inside an existing transaction.
func appendHistory(ctx context.Context, tx *sql.Tx, passID string, entries []types.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) FROM pass_history WHERE pass_id = ?;
`, passID).Scan(&last); err != nil {
		return fmt.Errorf("appendHistory %s last seq: %w", passID, err)
	}

	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pass_history(pass_id, seq, action, actor_id, comments, at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, passID, last+int64(i)+1, e.Action, e.ActorID, e.Comments, toMs(e.At)); err != nil {
			return fmt.Errorf("appendHistory %s insert: %w", passID, err)
		}
	}
	return nil
}

func loadHistory(ctx context.Context, q queryer, passID string) ([]types.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT action, actor_id, comments, at_ms
FROM pass_history
WHERE pass_id = ?
ORDER BY seq;
`, passID)
	if err != nil {
		return nil, fmt.Errorf("loadHistory %s: %w", passID, err)
	}
	defer rows.Close()

	var out []types.HistoryEntry
	for rows.Next() {
		var (
			e    types.HistoryEntry
			atMs int64
		)
		if err := rows.Scan(&e.Action, &e.ActorID, &e.Comments, &atMs); err != nil {
			return nil, fmt.Errorf("loadHistory %s scan: %w", passID, err)
		}
		e.At = fromMs(atMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func toMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMs(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMs(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

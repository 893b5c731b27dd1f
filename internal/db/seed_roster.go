package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

// SeedRoster upserts every department and student in r.  Rows not in r
// are left alone.
func SeedRoster(ctx context.Context, db *sql.DB, r *roster.Roster) error {
	if r == nil {
		return nil
	}
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed roster begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range r.Departments {
		name, hod := strings.TrimSpace(d.Name), strings.TrimSpace(d.HOD)
		if name == "" || hod == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO departments(name, hod_id, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  hod_id = excluded.hod_id,
  updated_at_ms = excluded.updated_at_ms;
`, name, hod, now); err != nil {
			return fmt.Errorf("seed department %s: %w", name, err)
		}
	}

	for _, s := range r.Students {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		var mentor any
		if m := strings.TrimSpace(s.Mentor); m != "" {
			mentor = m
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO students(student_id, department, mentor_id, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(student_id) DO UPDATE SET
  department = excluded.department,
  mentor_id = excluded.mentor_id,
  updated_at_ms = excluded.updated_at_ms;
`, id, strings.TrimSpace(s.Department), mentor, now); err != nil {
			return fmt.Errorf("seed student %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed roster commit: %w", err)
	}
	return nil
}

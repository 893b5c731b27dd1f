package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	dbpkg "github.com/BrandonDHaskell/gatepass/internal/db"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

const passColumns = `
  id, pass_number, verification_token,
  student_id, mentor_id, hod_id, department,
  reason, destination, category, emergency_contact,
  departure_at_ms, return_at_ms,
  mentor_status, mentor_decided_at_ms, mentor_comments, mentor_actor_id,
  hod_status, hod_decided_at_ms, hod_comments, hod_actor_id,
  status, is_used, used_at_ms, used_by, entry_at_ms,
  security_code, qr_payload,
  expires_at_ms, expired_at_ms, warning_sent_at_ms, overdue_flagged_at_ms,
  version, created_at_ms, updated_at_ms`

// PassStore persists passes in the passes and pass_history tables.
// Reads go straight to the pool; writes are serialised through the
// worker.
type PassStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPassStore(db *sql.DB, writer *dbpkg.Worker) *PassStore {
	return &PassStore{db: db, writer: writer}
}

func (s *PassStore) Insert(ctx context.Context, p types.GatePass) error {
	if p.Version == 0 {
		p.Version = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO passes(`+passColumns+`
) VALUES (
  ?, ?, ?,  ?, ?, ?, ?,  ?, ?, ?, ?,  ?, ?,
  ?, ?, ?, ?,  ?, ?, ?, ?,
  ?, ?, ?, ?, ?,  ?, ?,
  ?, ?, ?, ?,  ?, ?, ?
);
`,
			p.ID, p.PassNumber, p.VerificationToken,
			p.StudentID, p.MentorID, p.HODID, p.Department,
			p.Reason, p.Destination, string(p.Category), p.EmergencyContact,
			toMs(p.DepartureAt), toMs(p.ReturnAt),
			string(p.MentorApproval.Status), nullableMs(p.MentorApproval.DecidedAt), p.MentorApproval.Comments, p.MentorApproval.ActorID,
			string(p.HODApproval.Status), nullableMs(p.HODApproval.DecidedAt), p.HODApproval.Comments, p.HODApproval.ActorID,
			string(p.Status), boolInt(p.IsUsed), nullableMs(p.UsedAt), p.UsedBy, nullableMs(p.EntryTime),
			p.SecurityCode, p.QRPayload,
			nullableMs(p.ExpiresAt), nullableMs(p.ExpiredAt), nullableMs(p.WarningSentAt), nullableMs(p.OverdueFlaggedAt),
			p.Version, toMs(p.CreatedAt), toMs(p.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("Insert pass: %w", err)
		}
		return appendHistory(ctx, tx, p.ID, p.History)
	})
}

func (s *PassStore) FindByID(ctx context.Context, id string) (types.GatePass, error) {
	return loadPass(ctx, s.db, id)
}

func (s *PassStore) FindOne(ctx context.Context, f store.PassFilter) (types.GatePass, error) {
	f.Limit = 1
	out, err := s.Find(ctx, f)
	if err != nil {
		return types.GatePass{}, err
	}
	if len(out) == 0 {
		return types.GatePass{}, store.ErrNotFound
	}
	return out[0], nil
}

func (s *PassStore) Find(ctx context.Context, f store.PassFilter) ([]types.GatePass, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + passColumns + ` FROM passes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at_ms, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Find passes: %w", err)
	}
	var out []types.GatePass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("Find passes scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("Find passes rows: %w", err)
	}
	// The pool has a single connection; release it before loading history.
	rows.Close()

	for i := range out {
		h, err := loadHistory(ctx, s.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].History = h
	}
	return out, nil
}

func (s *PassStore) Update(ctx context.Context, id string, expectedVersion int64, patch types.PassPatch) (types.GatePass, error) {
	var next types.GatePass

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := loadPass(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return store.ErrVersionConflict
		}

		next = cur.Clone()
		patch.Apply(&next)
		next.Version = cur.Version + 1

		res, err := tx.ExecContext(ctx, `
UPDATE passes SET
  mentor_status = ?, mentor_decided_at_ms = ?, mentor_comments = ?, mentor_actor_id = ?,
  hod_status = ?, hod_decided_at_ms = ?, hod_comments = ?, hod_actor_id = ?,
  status = ?, is_used = ?, used_at_ms = ?, used_by = ?, entry_at_ms = ?,
  security_code = ?, qr_payload = ?,
  expires_at_ms = ?, expired_at_ms = ?, warning_sent_at_ms = ?, overdue_flagged_at_ms = ?,
  version = ?, updated_at_ms = ?
WHERE id = ? AND version = ?;
`,
			string(next.MentorApproval.Status), nullableMs(next.MentorApproval.DecidedAt), next.MentorApproval.Comments, next.MentorApproval.ActorID,
			string(next.HODApproval.Status), nullableMs(next.HODApproval.DecidedAt), next.HODApproval.Comments, next.HODApproval.ActorID,
			string(next.Status), boolInt(next.IsUsed), nullableMs(next.UsedAt), next.UsedBy, nullableMs(next.EntryTime),
			next.SecurityCode, next.QRPayload,
			nullableMs(next.ExpiresAt), nullableMs(next.ExpiredAt), nullableMs(next.WarningSentAt), nullableMs(next.OverdueFlaggedAt),
			next.Version, toMs(next.UpdatedAt),
			id, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("Update pass %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return store.ErrVersionConflict
		}

		return appendHistory(ctx, tx, id, patch.Append)
	})
	if err != nil {
		return types.GatePass{}, err
	}
	return next, nil
}

func loadPass(ctx context.Context, q queryer, id string) (types.GatePass, error) {
	p, err := scanPass(q.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.GatePass{}, store.ErrNotFound
	}
	if err != nil {
		return types.GatePass{}, fmt.Errorf("load pass %s: %w", id, err)
	}
	p.History, err = loadHistory(ctx, q, id)
	if err != nil {
		return types.GatePass{}, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (types.GatePass, error) {
	var (
		p                                                     types.GatePass
		category, mentorStatus, hodStatus, status             string
		departureMs, returnMs, createdMs, updatedMs           int64
		isUsed                                                int
		mentorDecided, hodDecided, usedAt, entryAt            sql.NullInt64
		expiresAt, expiredAt, warningSentAt, overdueFlaggedAt sql.NullInt64
	)
	err := row.Scan(
		&p.ID, &p.PassNumber, &p.VerificationToken,
		&p.StudentID, &p.MentorID, &p.HODID, &p.Department,
		&p.Reason, &p.Destination, &category, &p.EmergencyContact,
		&departureMs, &returnMs,
		&mentorStatus, &mentorDecided, &p.MentorApproval.Comments, &p.MentorApproval.ActorID,
		&hodStatus, &hodDecided, &p.HODApproval.Comments, &p.HODApproval.ActorID,
		&status, &isUsed, &usedAt, &p.UsedBy, &entryAt,
		&p.SecurityCode, &p.QRPayload,
		&expiresAt, &expiredAt, &warningSentAt, &overdueFlaggedAt,
		&p.Version, &createdMs, &updatedMs,
	)
	if err != nil {
		return types.GatePass{}, err
	}

	p.Category = types.Category(category)
	p.DepartureAt = fromMs(departureMs)
	p.ReturnAt = fromMs(returnMs)
	p.MentorApproval.Status = types.ApprovalStatus(mentorStatus)
	p.MentorApproval.DecidedAt = timePtr(mentorDecided)
	p.HODApproval.Status = types.ApprovalStatus(hodStatus)
	p.HODApproval.DecidedAt = timePtr(hodDecided)
	p.Status = types.Status(status)
	p.IsUsed = isUsed == 1
	p.UsedAt = timePtr(usedAt)
	p.EntryTime = timePtr(entryAt)
	p.ExpiresAt = timePtr(expiresAt)
	p.ExpiredAt = timePtr(expiredAt)
	p.WarningSentAt = timePtr(warningSentAt)
	p.OverdueFlaggedAt = timePtr(overdueFlaggedAt)
	p.CreatedAt = fromMs(createdMs)
	p.UpdatedAt = fromMs(updatedMs)
	return p, nil
}

func buildWhere(f store.PassFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			where = append(where, col+` = ?`)
			args = append(args, v)
		}
	}
	eq("id", f.ID)
	eq("pass_number", f.PassNumber)
	eq("verification_token", f.VerificationToken)
	eq("student_id", f.StudentID)
	eq("mentor_id", f.MentorID)
	eq("hod_id", f.HODID)

	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, `status IN (`+strings.Join(marks, ", ")+`)`)
	}
	if f.Unused {
		where = append(where, `is_used = 0`)
	}
	if !f.ExpiresBefore.IsZero() {
		where = append(where, `expires_at_ms < ?`)
		args = append(args, toMs(f.ExpiresBefore))
	}
	if !f.ExpiresAtOrAfter.IsZero() {
		where = append(where, `expires_at_ms >= ?`)
		args = append(args, toMs(f.ExpiresAtOrAfter))
	}
	if f.WarningPending {
		where = append(where, `warning_sent_at_ms IS NULL`)
	}
	if f.AwaitingReturn {
		where = append(where, `is_used = 1 AND entry_at_ms IS NULL`)
	}
	if !f.ReturnBefore.IsZero() {
		where = append(where, `return_at_ms < ?`)
		args = append(args, toMs(f.ReturnBefore))
	}
	if f.OverduePending {
		where = append(where, `overdue_flagged_at_ms IS NULL`)
	}
	return where, args
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
)

// DirectoryStore reads the students and departments tables seeded by
// db.SeedRoster.  It never writes.
type DirectoryStore struct {
	db *sql.DB
}

func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

func (s *DirectoryStore) Student(ctx context.Context, studentID string) (store.StudentRecord, bool, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return store.StudentRecord{}, false, nil
	}

	var (
		rec    = store.StudentRecord{StudentID: studentID}
		mentor sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT department, mentor_id
FROM students
WHERE student_id = ?;
`, studentID).Scan(&rec.Department, &mentor)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StudentRecord{}, false, nil
	}
	if err != nil {
		return store.StudentRecord{}, false, fmt.Errorf("Student query: %w", err)
	}
	rec.MentorID = mentor.String
	return rec, true, nil
}

func (s *DirectoryStore) HOD(ctx context.Context, department string) (string, bool, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return "", false, nil
	}

	var hod string
	err := s.db.QueryRowContext(ctx, `
SELECT hod_id FROM departments WHERE name = ?;
`, department).Scan(&hod)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("HOD query: %w", err)
	}
	return hod, true, nil
}

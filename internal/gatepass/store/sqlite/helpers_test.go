package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/gatepass/internal/db"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production.  The connection is closed automatically when
// the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own named in-memory database.  Shared cache keeps
	// it alive for as long as the pool holds a connection.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn.  The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

var baseTime = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

// newPass returns a freshly created pending pass.  Times are whole
// milliseconds so they survive the round trip through the database.
func newPass(id, studentID string, createdAt time.Time) types.GatePass {
	p := types.GatePass{
		ID:                id,
		PassNumber:        "GP-" + id,
		VerificationToken: "vt-" + id,
		StudentID:         studentID,
		MentorID:          "mentor-1",
		HODID:             "hod-1",
		Department:        "CSE",
		Reason:            "clinic visit",
		Destination:       "city hospital",
		Category:          types.CategoryMedical,
		EmergencyContact:  "+10000000",
		DepartureAt:       createdAt.Add(2 * time.Hour),
		ReturnAt:          createdAt.Add(4 * time.Hour),
		MentorApproval:    types.Approval{Status: types.ApprovalPending},
		HODApproval:       types.Approval{Status: types.ApprovalPending},
		History: []types.HistoryEntry{
			{Action: types.ActionCreated, At: createdAt, ActorID: studentID},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	p.Status = types.DeriveStatus(p)
	return p
}

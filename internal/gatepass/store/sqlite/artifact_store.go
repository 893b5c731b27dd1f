package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/gatepass/internal/db"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
)

type ArtifactStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewArtifactStore(db *sql.DB, writer *dbpkg.Worker) *ArtifactStore {
	return &ArtifactStore{db: db, writer: writer}
}

// PutArtifact replaces any earlier rendition of the same kind.
func (s *ArtifactStore) PutArtifact(ctx context.Context, rec store.ArtifactRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pass_artifacts(pass_id, kind, content_type, data, created_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(pass_id, kind) DO UPDATE SET
  content_type = excluded.content_type,
  data = excluded.data,
  created_at_ms = excluded.created_at_ms;
`, rec.PassID, rec.Kind, rec.ContentType, rec.Data, toMs(rec.CreatedAt)); err != nil {
			return fmt.Errorf("PutArtifact %s/%s: %w", rec.PassID, rec.Kind, err)
		}
		return nil
	})
}

func (s *ArtifactStore) GetArtifact(ctx context.Context, passID, kind string) (store.ArtifactRecord, error) {
	rec := store.ArtifactRecord{PassID: passID, Kind: kind}
	var createdMs int64
	err := s.db.QueryRowContext(ctx, `
SELECT content_type, data, created_at_ms
FROM pass_artifacts
WHERE pass_id = ? AND kind = ?;
`, passID, kind).Scan(&rec.ContentType, &rec.Data, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ArtifactRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ArtifactRecord{}, fmt.Errorf("GetArtifact %s/%s: %w", passID, kind, err)
	}
	rec.CreatedAt = fromMs(createdMs)
	return rec, nil
}

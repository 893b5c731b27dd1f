package store

import (
	"context"
	"time"
)

// Artifact kinds.
const (
	ArtifactQR = "qr"
)

// ArtifactRecord is a rendered, downloadable rendition of a pass.
type ArtifactRecord struct {
	PassID      string
	Kind        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// ArtifactStore keeps the latest rendition of each kind per pass.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, rec ArtifactRecord) error
	GetArtifact(ctx context.Context, passID, kind string) (ArtifactRecord, error)
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
)

type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]store.ArtifactRecord
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[string]store.ArtifactRecord)}
}

func (s *ArtifactStore) PutArtifact(_ context.Context, rec store.ArtifactRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Data = append([]byte(nil), rec.Data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[rec.PassID+"/"+rec.Kind] = rec
	return nil
}

func (s *ArtifactStore) GetArtifact(_ context.Context, passID, kind string) (store.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.artifacts[passID+"/"+kind]
	if !ok {
		return store.ArtifactRecord{}, store.ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

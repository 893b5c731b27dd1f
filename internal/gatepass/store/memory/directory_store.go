package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

// DirectoryStore serves roster lookups from memory.
type DirectoryStore struct {
	mu       sync.RWMutex
	students map[string]store.StudentRecord
	hods     map[string]string
}

func NewDirectoryStore(r *roster.Roster) *DirectoryStore {
	s := &DirectoryStore{
		students: make(map[string]store.StudentRecord),
		hods:     make(map[string]string),
	}
	if r != nil {
		s.Load(r)
	}
	return s
}

// Load replaces the directory contents with r.
func (s *DirectoryStore) Load(r *roster.Roster) {
	students := make(map[string]store.StudentRecord, len(r.Students))
	for _, st := range r.Students {
		id := strings.TrimSpace(st.ID)
		if id == "" {
			continue
		}
		students[id] = store.StudentRecord{
			StudentID:  id,
			Department: strings.TrimSpace(st.Department),
			MentorID:   strings.TrimSpace(st.Mentor),
		}
	}
	hods := make(map[string]string, len(r.Departments))
	for _, d := range r.Departments {
		if name, hod := strings.TrimSpace(d.Name), strings.TrimSpace(d.HOD); name != "" && hod != "" {
			hods[name] = hod
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = students
	s.hods = hods
}

func (s *DirectoryStore) Student(_ context.Context, studentID string) (store.StudentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.students[studentID]
	return rec, ok, nil
}

func (s *DirectoryStore) HOD(_ context.Context, department string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hod, ok := s.hods[department]
	return hod, ok, nil
}

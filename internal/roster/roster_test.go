package roster_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BrandonDHaskell/gatepass/internal/roster"
)

const sample = `
departments:
  - name: CSE
    hod: hod-cse
  - name: ECE
    hod: hod-ece
students:
  - id: stu-001
    department: CSE
    mentor: mentor-07
  - id: stu-002
    department: ECE
`

func TestParse_Valid(t *testing.T) {
	r, err := roster.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Departments) != 2 || len(r.Students) != 2 {
		t.Fatalf("expected 2 departments and 2 students, got %d and %d", len(r.Departments), len(r.Students))
	}
	if r.Students[0].Mentor != "mentor-07" {
		t.Errorf("expected mentor-07, got %q", r.Students[0].Mentor)
	}
	if r.Students[1].Mentor != "" {
		t.Errorf("expected no mentor for stu-002, got %q", r.Students[1].Mentor)
	}
}

func TestParse_Empty(t *testing.T) {
	r, err := roster.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Students) != 0 {
		t.Errorf("expected empty roster, got %+v", r)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := roster.Parse([]byte("students:\n  - id: s1\n    department: CSE\n    mentr: m1\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	doc := `
departments:
  - name: CSE
    hod: a
  - name: CSE
    hod: b
students:
  - id: s1
    department: CSE
  - id: s1
  - department: CSE
`
	_, err := roster.Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"listed twice", "department is required", "id is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := roster.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := roster.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

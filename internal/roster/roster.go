// Package roster loads the campus directory: which mentor each student
// reports to and which HOD heads each department.
//
// The roster is a YAML file:
//
//	departments:
//	  - name: CSE
//	    hod: hod-cse
//	students:
//	  - id: stu-001
//	    department: CSE
//	    mentor: mentor-07
package roster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Department struct {
	Name string `yaml:"name"`
	HOD  string `yaml:"hod"`
}

type Student struct {
	ID         string `yaml:"id"`
	Department string `yaml:"department"`
	// Mentor may be empty; such students cannot create passes.
	Mentor string `yaml:"mentor"`
}

type Roster struct {
	Departments []Department `yaml:"departments"`
	Students    []Student    `yaml:"students"`
}

// Load reads and validates the roster at path.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a roster document.  Unknown keys are
// rejected so typos do not silently drop entries.
func Parse(data []byte) (*Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Roster
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) Validate() error {
	var errs []error

	departments := make(map[string]struct{}, len(r.Departments))
	for i, d := range r.Departments {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("departments[%d]: name is required", i))
			continue
		}
		if _, dup := departments[name]; dup {
			errs = append(errs, fmt.Errorf("departments[%d]: department %q listed twice", i, name))
		}
		departments[name] = struct{}{}
	}

	students := make(map[string]struct{}, len(r.Students))
	for i, s := range r.Students {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("students[%d]: id is required", i))
			continue
		}
		if _, dup := students[id]; dup {
			errs = append(errs, fmt.Errorf("students[%d]: student %q listed twice", i, id))
		}
		students[id] = struct{}{}
		if strings.TrimSpace(s.Department) == "" {
			errs = append(errs, fmt.Errorf("students[%d]: department is required", i))
		}
	}

	return errors.Join(errs...)
}

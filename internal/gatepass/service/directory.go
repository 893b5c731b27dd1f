package service

import (
	"context"
	"strings"

	"github.com/BrandonDHaskell/gatepass/internal/gatepass/store"
	"github.com/BrandonDHaskell/gatepass/internal/gatepass/types"
)

// Approvers is who signs off on one student's pass.
type Approvers struct {
	MentorID   string
	HODID      string
	Department string
}

// Directory resolves a student's mentor and department head.
type Directory struct {
	store store.DirectoryStore
}

func NewDirectory(st store.DirectoryStore) *Directory {
	return &Directory{store: st}
}

// Resolve looks up the approvers for student.  The principal's department
// claim takes precedence over the roster's.  A student with no mentor, or
// a department with no HOD, is a PolicyError.
func (d *Directory) Resolve(ctx context.Context, student types.Principal) (Approvers, error) {
	rec, found, err := d.store.Student(ctx, strings.TrimSpace(student.ID))
	if err != nil {
		return Approvers{}, err
	}
	if !found {
		return Approvers{}, policyf("student %s is not on the roster", student.ID)
	}
	if rec.MentorID == "" {
		return Approvers{}, policyf("no mentor assigned to student %s", student.ID)
	}

	dept := strings.TrimSpace(student.Department)
	if dept == "" {
		dept = rec.Department
	}
	if dept == "" {
		return Approvers{}, policyf("no department known for student %s", student.ID)
	}

	hod, found, err := d.store.HOD(ctx, dept)
	if err != nil {
		return Approvers{}, err
	}
	if !found || hod == "" {
		return Approvers{}, policyf("no HOD found for department %s", dept)
	}
	return Approvers{MentorID: rec.MentorID, HODID: hod, Department: dept}, nil
}

package store

import "context"

// StudentRecord is the roster entry the workflow needs for one student.
type StudentRecord struct {
	StudentID  string
	Department string
	MentorID   string
}

// DirectoryStore answers who approves a student's passes.  Lookups of
// unknown ids report found=false rather than an error.
type DirectoryStore interface {
	Student(ctx context.Context, studentID string) (rec StudentRecord, found bool, err error)
	HOD(ctx context.Context, department string) (hodID string, found bool, err error)
}

package session

import "errors"

var (
	ErrNotSessionTeacher = errors.New("not the teacher of this session")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrNotEnrolled       = errors.New("student is not enrolled in this class")
	ErrStudentMismatch   = errors.New("studentId does not match the authenticated user")
	ErrNotStudent        = errors.New("only students can join as a student")
)

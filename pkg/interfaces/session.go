package interfaces

import (
	"context"

	"mindlink/pkg/types"
)

// SessionManager enforces join preconditions against the store.
type SessionManager interface {
	// AuthorizeTeacher returns the session when identity is its teacher.
	AuthorizeTeacher(ctx context.Context, sessionID string, identity *types.Identity) (*types.Session, error)

	// AuthorizeStudent returns the session when it is active and identity is
	// enrolled in its class. claimedStudentID may be empty.
	AuthorizeStudent(ctx context.Context, sessionID, claimedStudentID string, identity *types.Identity) (*types.Session, error)

	// Roster lists the class students of a session.
	Roster(ctx context.Context, session *types.Session) ([]types.StudentProfile, error)
}

package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Manager checks join preconditions against the store. It holds no state;
// sessions are owned by the platform and may change between joins.
type Manager struct {
	store  interfaces.Store
	logger *zap.Logger
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager reads sessions and enrollments from store.
func NewManager(store interfaces.Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger.Named("session")}
}

// GetSession validates the id and maps a missing row to a NotFound error.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if !types.IsValidID(sessionID) {
		return nil, types.ValidationError(types.ErrInvalidSessionID.Error(), types.ErrInvalidSessionID)
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NotFoundError("session not found")
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}

// AuthorizeTeacher allows only the teacher who owns the session.
func (m *Manager) AuthorizeTeacher(ctx context.Context, sessionID string, identity *types.Identity) (*types.Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if identity == nil || identity.ID != session.TeacherID {
		return nil, types.PermissionError(ErrNotSessionTeacher.Error())
	}
	return session, nil
}

// AuthorizeStudent requires an active session and an enrolled student. The
// student id is always the authenticated id; a different claimed id is refused.
func (m *Manager) AuthorizeStudent(ctx context.Context, sessionID, claimedStudentID string, identity *types.Identity) (*types.Session, error) {
	if identity == nil || identity.Role != types.RoleStudent {
		return nil, types.PermissionError(ErrNotStudent.Error())
	}
	if claimedStudentID != "" && claimedStudentID != identity.ID {
		return nil, types.PermissionError(ErrStudentMismatch.Error())
	}

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionActive {
		return nil, types.ValidationError(ErrSessionNotActive.Error(), ErrSessionNotActive)
	}

	enrolled, err := m.store.IsStudentEnrolled(ctx, session.ClassID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		return nil, types.PermissionError(ErrNotEnrolled.Error())
	}
	return session, nil
}

// AuthorizeViewer allows the session's teacher and admins to read metrics.
func (m *Manager) AuthorizeViewer(ctx context.Context, sessionID string, identity *types.Identity) (*types.Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if identity == nil || (identity.Role != types.RoleAdmin && identity.ID != session.TeacherID) {
		return nil, types.PermissionError("not allowed to view this session")
	}
	return session, nil
}

// Roster lists the students of the class behind session.
func (m *Manager) Roster(ctx context.Context, session *types.Session) ([]types.StudentProfile, error) {
	students, err := m.store.ListClassStudents(ctx, session.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for class %s: %w", session.ClassID, err)
	}
	return students, nil
}

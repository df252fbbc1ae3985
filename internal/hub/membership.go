package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mindlink/internal/logging"
	"mindlink/internal/room"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// TeacherJoin handles teacher:join.
func (h *Hub) TeacherJoin(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	req, err := decodeSessionRequest(data)
	if err != nil {
		return err
	}
	identity := conn.Identity()
	session, err := h.sessions.AuthorizeTeacher(ctx, req.SessionID, identity)
	if err != nil {
		return err
	}
	roster, err := h.sessions.Roster(ctx, session)
	if err != nil {
		return err
	}

	h.leaveOther(ctx, conn, session.ID, types.RoleTeacher)
	h.registry.AddTeacher(session.ID, conn)
	conn.SetMembership(types.Membership{SessionID: session.ID, Role: types.RoleTeacher, DisplayName: identity.Name})
	h.updateRoomGauge()

	h.logger.Info("teacher joined",
		append(logging.Connection(conn.ID(), identity.ID, string(identity.Role)), zap.String("session_id", session.ID))...)

	h.emit(conn, types.EventTeacherJoined, h.summary(session, types.RoleTeacher))
	h.emit(conn, types.EventTeacherStudents, h.roster(session.ID, roster))
	for _, slot := range h.registry.Students(session.ID) {
		if slot.LastSample != nil {
			h.emit(conn, types.EventEEGUpdate, EEGUpdate{EEGSample: *slot.LastSample, StudentName: slot.DisplayName})
		}
	}
	h.broadcast(h.registry.Connections(session.ID), conn.ID(), types.EventTeacherConnected, TeacherPresence{
		SessionID:   session.ID,
		TeacherID:   identity.ID,
		TeacherName: identity.Name,
	})
	return nil
}

// TeacherLeave handles teacher:leave.
func (h *Hub) TeacherLeave(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	return h.explicitLeave(ctx, conn, data, types.RoleTeacher, types.EventTeacherLeft)
}

// TeacherGetStudents handles teacher:get-students with the same checks as a join.
func (h *Hub) TeacherGetStudents(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	req, err := decodeSessionRequest(data)
	if err != nil {
		return err
	}
	session, err := h.sessions.AuthorizeTeacher(ctx, req.SessionID, conn.Identity())
	if err != nil {
		return err
	}
	roster, err := h.sessions.Roster(ctx, session)
	if err != nil {
		return err
	}
	h.emit(conn, types.EventTeacherStudents, h.roster(session.ID, roster))
	return nil
}

// StudentJoin handles student:join. The slot is keyed by the authenticated
// id; studentId in the payload is only checked for consistency.
func (h *Hub) StudentJoin(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	var req studentJoinRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	identity := conn.Identity()
	session, err := h.sessions.AuthorizeStudent(ctx, req.SessionID, req.StudentID, identity)
	if err != nil {
		return err
	}

	name := displayName(req.StudentName, identity)
	h.leaveOther(ctx, conn, session.ID, types.RoleStudent)
	slot, ok := h.registry.Student(session.ID, identity.ID)
	repeat := ok && slot.Conn.ID() == conn.ID()
	previous := h.registry.AddStudent(session.ID, identity.ID, name, conn)
	conn.SetMembership(types.Membership{SessionID: session.ID, Role: types.RoleStudent, DisplayName: name})
	h.updateRoomGauge()

	fields := append(logging.Connection(conn.ID(), identity.ID, string(identity.Role)), zap.String("session_id", session.ID))
	if previous != nil {
		// The evicted socket stays open but can no longer stream for this student.
		previous.SetMembership(types.Membership{})
		h.logger.Info("student rejoined from a new connection", append(fields, zap.String("previous_conn_id", previous.ID()))...)
	} else {
		h.logger.Info("student joined", fields...)
	}

	h.emit(conn, types.EventStudentJoined, h.summary(session, types.RoleStudent))
	if repeat {
		return nil
	}
	h.broadcast(h.registry.Connections(session.ID), conn.ID(), types.EventStudentConnected, StudentPresence{
		SessionID:   session.ID,
		StudentID:   identity.ID,
		StudentName: name,
	})
	return nil
}

// StudentLeave handles student:leave.
func (h *Hub) StudentLeave(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	return h.explicitLeave(ctx, conn, data, types.RoleStudent, types.EventStudentLeft)
}

// Disconnect treats a closed transport as a leave of whatever it had joined.
func (h *Hub) Disconnect(ctx context.Context, conn interfaces.Connection) {
	membership := conn.Membership()
	if !membership.Joined() {
		return
	}
	h.leave(conn, membership)
}

func (h *Hub) explicitLeave(ctx context.Context, conn interfaces.Connection, data json.RawMessage, role types.Role, ack string) error {
	var req sessionRequest
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return err
		}
	}
	membership := conn.Membership()
	if !membership.Joined() || membership.Role != role {
		return types.ValidationError(ErrNotJoined.Error(), ErrNotJoined)
	}
	if req.SessionID != "" && req.SessionID != membership.SessionID {
		return types.ValidationError(ErrNotJoinedSession.Error(), ErrNotJoinedSession)
	}
	h.leave(conn, membership)
	h.emit(conn, ack, LeftPayload{SessionID: membership.SessionID})
	return nil
}

// leaveOther leaves the current room when a join targets a different one.
func (h *Hub) leaveOther(ctx context.Context, conn interfaces.Connection, sessionID string, role types.Role) {
	membership := conn.Membership()
	if !membership.Joined() || (membership.SessionID == sessionID && membership.Role == role) {
		return
	}
	h.leave(conn, membership)
}

// leave removes the connection from its room and notifies whoever remains.
func (h *Hub) leave(conn interfaces.Connection, membership types.Membership) {
	identity := conn.Identity()
	conn.SetMembership(types.Membership{})

	var removed, deleted bool
	switch membership.Role {
	case types.RoleTeacher:
		removed, deleted = h.registry.RemoveTeacher(membership.SessionID, conn.ID())
		if removed {
			h.broadcast(h.registry.Connections(membership.SessionID), conn.ID(), types.EventTeacherDisconnected, TeacherPresence{
				SessionID:   membership.SessionID,
				TeacherID:   identity.ID,
				TeacherName: identity.Name,
			})
		}
	case types.RoleStudent:
		removed, deleted = h.registry.RemoveStudent(membership.SessionID, identity.ID, conn.ID())
		if removed {
			h.broadcast(h.registry.Connections(membership.SessionID), conn.ID(), types.EventStudentDisconnected, StudentPresence{
				SessionID:   membership.SessionID,
				StudentID:   identity.ID,
				StudentName: membership.DisplayName,
			})
		}
	}
	h.updateRoomGauge()

	h.logger.Info("left session",
		append(logging.Connection(conn.ID(), identity.ID, string(membership.Role)),
			zap.String("session_id", membership.SessionID),
			zap.Bool("slot_removed", removed),
			zap.Bool("room_deleted", deleted))...)
}

func (h *Hub) summary(session *types.Session, role types.Role) SessionSummary {
	teachers, students := h.registry.Occupancy(session.ID)
	return SessionSummary{
		Session:           *session,
		Role:              role,
		ConnectedTeachers: teachers,
		ConnectedStudents: students,
	}
}

// roster merges the class list with live slots. Connected students missing
// from the class list are appended after it.
func (h *Hub) roster(sessionID string, class []types.StudentProfile) RosterPayload {
	slots := h.registry.Students(sessionID)
	live := make(map[string]int, len(slots))
	for i, s := range slots {
		live[s.StudentID] = i
	}

	entries := make([]RosterEntry, 0, len(class)+len(slots))
	seen := make(map[string]bool, len(class))
	for _, p := range class {
		entry := RosterEntry{ID: p.ID, Name: p.Name, Email: p.Email}
		if i, ok := live[p.ID]; ok {
			entry.Connected = true
			entry.LastUpdateAt = lastUpdate(slots[i])
		}
		entries = append(entries, entry)
		seen[p.ID] = true
	}
	for _, s := range slots {
		if seen[s.StudentID] {
			continue
		}
		entries = append(entries, RosterEntry{ID: s.StudentID, Name: s.DisplayName, Connected: true, LastUpdateAt: lastUpdate(s)})
	}
	return RosterPayload{SessionID: sessionID, Students: entries}
}

func lastUpdate(slot room.StudentSlot) *time.Time {
	if slot.LastUpdateAt.IsZero() {
		return nil
	}
	t := slot.LastUpdateAt
	return &t
}

func displayName(requested string, identity *types.Identity) string {
	switch {
	case requested != "":
		return requested
	case identity.Name != "":
		return identity.Name
	default:
		return identity.ID
	}
}

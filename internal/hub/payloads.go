package hub

import (
	"encoding/json"
	"time"

	"mindlink/pkg/types"
)

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type studentJoinRequest struct {
	SessionID   string `json:"sessionId"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

// SessionSummary acknowledges a join.
type SessionSummary struct {
	Session           types.Session `json:"session"`
	Role              types.Role    `json:"role"`
	ConnectedTeachers int           `json:"connectedTeachers"`
	ConnectedStudents int           `json:"connectedStudents"`
}

// LeftPayload acknowledges a leave.
type LeftPayload struct {
	SessionID string `json:"sessionId"`
}

// RosterEntry is one student in a teacher:students frame.
type RosterEntry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Connected    bool       `json:"connected"`
	LastUpdateAt *time.Time `json:"lastUpdateAt,omitempty"`
}

type RosterPayload struct {
	SessionID string        `json:"sessionId"`
	Students  []RosterEntry `json:"students"`
}

type TeacherPresence struct {
	SessionID   string `json:"sessionId"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
}

type StudentPresence struct {
	SessionID   string `json:"sessionId"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

// EEGUpdate is the sample as relayed to teachers.
type EEGUpdate struct {
	types.EEGSample
	StudentName string `json:"studentName"`
}

type EEGReceived struct {
	Timestamp time.Time `json:"timestamp"`
}

type EEGInvalid struct {
	Message       string  `json:"message"`
	SignalQuality float64 `json:"signalQuality"`
}

type EEGSaveFailed struct {
	Message   string    `json:"message"`
	SampleID  string    `json:"sampleId"`
	Timestamp time.Time `json:"timestamp"`
}

func decodeSessionRequest(data json.RawMessage) (sessionRequest, error) {
	var req sessionRequest
	if err := decode(data, &req); err != nil {
		return req, err
	}
	if !types.IsValidID(req.SessionID) {
		return req, types.ValidationError(types.ErrInvalidSessionID.Error(), types.ErrInvalidSessionID)
	}
	return req, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return types.ValidationError("missing event payload", nil)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.ValidationError("malformed event payload", err)
	}
	return nil
}

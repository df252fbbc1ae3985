package types

import (
	"time"
)

// Role of an authenticated user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a claim value to a Role. Empty or unknown values become RoleStudent.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleTeacher, RoleAdmin:
		return Role(s)
	default:
		return RoleStudent
	}
}

// SessionStatus values as stored by the platform's session CRUD.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Identity is derived from the bearer credential and attached to a connection
// for its lifetime. It is never persisted by this service.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// Session is owned by the platform; the realtime core only reads it.
type Session struct {
	ID        string        `json:"id" db:"id"`
	ClassID   string        `json:"classId" db:"class_id"`
	TeacherID string        `json:"teacherId" db:"teacher_id"`
	Title     string        `json:"title" db:"title"`
	Status    SessionStatus `json:"status" db:"status"`
	StartTime *time.Time    `json:"startTime,omitempty" db:"start_time"`
	EndTime   *time.Time    `json:"endTime,omitempty" db:"end_time"`
}

// StudentProfile is a member of the class backing a session.
type StudentProfile struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

// EEGSample is one validated telemetry reading. Session and student are taken
// from the sending connection's membership, never from the payload.
type EEGSample struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"sessionId" db:"session_id"`
	StudentID     string    `json:"studentId" db:"student_id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Attention     float64   `json:"attention" db:"attention"`
	Relaxation    float64   `json:"relaxation" db:"relaxation"`
	Delta         float64   `json:"delta" db:"delta"`
	Theta         float64   `json:"theta" db:"theta"`
	Alpha         float64   `json:"alpha" db:"alpha"`
	Beta          float64   `json:"beta" db:"beta"`
	Gamma         float64   `json:"gamma" db:"gamma"`
	SignalQuality float64   `json:"signalQuality" db:"signal_quality"`
}

// EEGPayload is the client-supplied body of an eeg:data event.
// attention and relaxation are pointers so a missing field can be told apart from zero.
type EEGPayload struct {
	Attention     *float64   `json:"attention" validate:"required,gte=0,lte=100"`
	Relaxation    *float64   `json:"relaxation" validate:"required,gte=0,lte=100"`
	Delta         *float64   `json:"delta" validate:"omitempty,gte=0"`
	Theta         *float64   `json:"theta" validate:"omitempty,gte=0"`
	Alpha         *float64   `json:"alpha" validate:"omitempty,gte=0"`
	Beta          *float64   `json:"beta" validate:"omitempty,gte=0"`
	Gamma         *float64   `json:"gamma" validate:"omitempty,gte=0"`
	SignalQuality *float64   `json:"signalQuality" validate:"omitempty,gte=0,lte=100"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// Membership is the connection-attached record of which room a connection
// joined and in which role. Zero value means not joined.
type Membership struct {
	SessionID   string `json:"sessionId"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}

// Joined reports whether the membership refers to a session.
func (m Membership) Joined() bool {
	return m.SessionID != ""
}

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// SessionMetrics is the full aggregate for a session.
type SessionMetrics struct {
	SessionID    string                `json:"sessionId"`
	Overall      OverallMetrics        `json:"overall"`
	Distribution AttentionDistribution `json:"distribution"`
	TimeSeries   []TimeBucket          `json:"timeSeries"`
	Students     []StudentMetrics      `json:"students"`
	CalculatedAt time.Time             `json:"calculatedAt"`
}

// OverallMetrics aggregates every sample of a session.
type OverallMetrics struct {
	TotalSamples     int     `json:"totalSamples" db:"total_samples"`
	TotalStudents    int     `json:"totalStudents" db:"total_students"`
	AvgAttention     float64 `json:"avgAttention" db:"avg_attention"`
	AvgRelaxation    float64 `json:"avgRelaxation" db:"avg_relaxation"`
	MinAttention     float64 `json:"minAttention" db:"min_attention"`
	MaxAttention     float64 `json:"maxAttention" db:"max_attention"`
	AvgSignalQuality float64 `json:"avgSignalQuality" db:"avg_signal_quality"`
}

// DistributionBucket is one attention band.
type DistributionBucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// AttentionDistribution splits samples into low (<40), medium [40,70) and high (>=70).
type AttentionDistribution struct {
	Low    DistributionBucket `json:"low"`
	Medium DistributionBucket `json:"medium"`
	High   DistributionBucket `json:"high"`
}

// TimeBucket covers a fixed window anchored at the session start.
type TimeBucket struct {
	Start         time.Time `json:"start"`
	AvgAttention  float64   `json:"avgAttention"`
	MinAttention  float64   `json:"minAttention"`
	MaxAttention  float64   `json:"maxAttention"`
	AvgRelaxation float64   `json:"avgRelaxation"`
	SampleCount   int       `json:"sampleCount"`
}

// StudentMetrics is the per-student breakdown of a session.
type StudentMetrics struct {
	SessionID        string    `json:"sessionId" db:"session_id"`
	StudentID        string    `json:"studentId" db:"student_id"`
	StudentName      string    `json:"studentName" db:"student_name"`
	AvgAttention     float64   `json:"avgAttention" db:"avg_attention"`
	MinAttention     float64   `json:"minAttention" db:"min_attention"`
	MaxAttention     float64   `json:"maxAttention" db:"max_attention"`
	AvgRelaxation    float64   `json:"avgRelaxation" db:"avg_relaxation"`
	AvgSignalQuality float64   `json:"avgSignalQuality" db:"avg_signal_quality"`
	SampleCount      int       `json:"sampleCount" db:"sample_count"`
	DurationSeconds  float64   `json:"durationSeconds" db:"duration_seconds"`
	FirstSampleAt    time.Time `json:"firstSampleAt" db:"first_sample_at"`
	LastSampleAt     time.Time `json:"lastSampleAt" db:"last_sample_at"`
}

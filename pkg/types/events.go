package types

// Client to server events.
const (
	EventTeacherJoin        = "teacher:join"
	EventTeacherLeave       = "teacher:leave"
	EventTeacherGetStudents = "teacher:get-students"
	EventStudentJoin        = "student:join"
	EventStudentLeave       = "student:leave"
	EventEEGData            = "eeg:data"
)

// Server to client events.
const (
	EventTeacherJoined       = "teacher:joined"
	EventTeacherLeft         = "teacher:left"
	EventTeacherStudents     = "teacher:students"
	EventStudentJoined       = "student:joined"
	EventStudentLeft         = "student:left"
	EventTeacherConnected    = "teacher-connected"
	EventTeacherDisconnected = "teacher-disconnected"
	EventStudentConnected    = "student-connected"
	EventStudentDisconnected = "student-disconnected"
	EventEEGUpdate           = "eeg:update"
	EventEEGReceived         = "eeg:received"
	EventEEGInvalidData      = "eeg:invalid-data"
	EventEEGSaveFailed       = "eeg:save-failed"
	EventError               = "error"
)

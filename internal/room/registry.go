package room

import (
	"sort"
	"sync"
	"time"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// StudentSlot is the live state of one student in a room.
type StudentSlot struct {
	StudentID    string
	DisplayName  string
	Conn         interfaces.Connection
	ConnectedAt  time.Time
	LastSample   *types.EEGSample
	LastUpdateAt time.Time
}

type room struct {
	teachers map[string]interfaces.Connection // connection id -> connection
	students map[string]*StudentSlot          // student id -> slot
}

func (r *room) empty() bool {
	return len(r.teachers) == 0 && len(r.students) == 0
}

// Stats summarizes registry occupancy.
type Stats struct {
	Rooms    int `json:"rooms"`
	Teachers int `json:"teachers"`
	Students int `json:"students"`
}

// Registry tracks which connections are joined to which session room.
// A room exists only while at least one connection is joined to it.
// Every read returns a snapshot so callers can broadcast without holding the lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

func (r *Registry) roomFor(sessionID string) *room {
	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{
			teachers: make(map[string]interfaces.Connection),
			students: make(map[string]*StudentSlot),
		}
		r.rooms[sessionID] = rm
	}
	return rm
}

func (r *Registry) deleteIfEmpty(sessionID string, rm *room) bool {
	if rm.empty() {
		delete(r.rooms, sessionID)
		return true
	}
	return false
}

// AddTeacher joins conn to the room, creating it on first join.
func (r *Registry) AddTeacher(sessionID string, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomFor(sessionID).teachers[conn.ID()] = conn
}

// RemoveTeacher reports whether the connection was present and whether the
// room was deleted as a result.
func (r *Registry) RemoveTeacher(sessionID, connID string) (removed, roomDeleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return false, false
	}
	if _, ok := rm.teachers[connID]; !ok {
		return false, false
	}
	delete(rm.teachers, connID)
	return true, r.deleteIfEmpty(sessionID, rm)
}

// AddStudent registers the student's slot, replacing any earlier one. The
// connection previously holding the slot is returned when it differs.
func (r *Registry) AddStudent(sessionID, studentID, displayName string, conn interfaces.Connection) (previous interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.roomFor(sessionID)
	if old, ok := rm.students[studentID]; ok {
		if old.Conn.ID() == conn.ID() {
			old.DisplayName = displayName
			return nil
		}
		previous = old.Conn
	}
	rm.students[studentID] = &StudentSlot{
		StudentID:   studentID,
		DisplayName: displayName,
		Conn:        conn,
		ConnectedAt: r.now(),
	}
	return previous
}

// RemoveStudent clears the slot only while it still belongs to connID, so a
// stale connection closing late cannot evict a newer join.
func (r *Registry) RemoveStudent(sessionID, studentID, connID string) (removed, roomDeleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return false, false
	}
	slot, ok := rm.students[studentID]
	if !ok || slot.Conn.ID() != connID {
		return false, false
	}
	delete(rm.students, studentID)
	return true, r.deleteIfEmpty(sessionID, rm)
}

// UpdateSample stores the latest sample on the slot owned by connID.
func (r *Registry) UpdateSample(sessionID, studentID, connID string, sample *types.EEGSample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return false
	}
	slot, ok := rm.students[studentID]
	if !ok || slot.Conn.ID() != connID {
		return false
	}
	cp := *sample
	slot.LastSample = &cp
	slot.LastUpdateAt = r.now()
	return true
}

// Teachers returns the teacher connections of a room.
func (r *Registry) Teachers(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]interfaces.Connection, 0, len(rm.teachers))
	for _, c := range rm.teachers {
		out = append(out, c)
	}
	return out
}

// Students returns copies of the student slots ordered by student id.
func (r *Registry) Students(sessionID string) []StudentSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]StudentSlot, 0, len(rm.students))
	for _, s := range rm.students {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Student returns a copy of one slot.
func (r *Registry) Student(sessionID, studentID string) (StudentSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return StudentSlot{}, false
	}
	s, ok := rm.students[studentID]
	if !ok {
		return StudentSlot{}, false
	}
	return *s, true
}

// Connections returns every joined connection of a room, teachers first.
func (r *Registry) Connections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]interfaces.Connection, 0, len(rm.teachers)+len(rm.students))
	for _, c := range rm.teachers {
		out = append(out, c)
	}
	for _, s := range rm.students {
		out = append(out, s.Conn)
	}
	return out
}

// HasRoom reports whether any connection is joined to sessionID.
func (r *Registry) HasRoom(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[sessionID]
	return ok
}

// Occupancy returns the teacher and student counts of one room.
func (r *Registry) Occupancy(sessionID string) (teachers, students int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[sessionID]; ok {
		return len(rm.teachers), len(rm.students)
	}
	return 0, 0
}

// GetStats counts rooms and joined connections across the registry.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Rooms: len(r.rooms)}
	for _, rm := range r.rooms {
		stats.Teachers += len(rm.teachers)
		stats.Students += len(rm.students)
	}
	return stats
}

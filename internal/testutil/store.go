package testutil

import (
	"context"
	"sort"
	"sync"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// MemStore is an in-memory interfaces.Store with failure injection.
type MemStore struct {
	mu             sync.Mutex
	sessions       map[string]*types.Session
	users          map[string]types.StudentProfile
	enrollments    map[string]map[string]bool
	samples        []types.EEGSample
	sessionMetrics map[string]*types.SessionMetrics
	studentMetrics map[string]map[string]types.StudentMetrics

	SaveErr    error
	ListErr    error
	HealthErr  error
	SaveHook   func(*types.EEGSample)
	ListBlocks chan struct{}
}

var _ interfaces.Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:       make(map[string]*types.Session),
		users:          make(map[string]types.StudentProfile),
		enrollments:    make(map[string]map[string]bool),
		sessionMetrics: make(map[string]*types.SessionMetrics),
		studentMetrics: make(map[string]map[string]types.StudentMetrics),
	}
}

func (s *MemStore) AddSession(session types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &session
}

func (s *MemStore) AddStudent(classID string, profile types.StudentProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
	if s.enrollments[classID] == nil {
		s.enrollments[classID] = make(map[string]bool)
	}
	s.enrollments[classID][profile.ID] = true
}

func (s *MemStore) AddSamples(samples ...types.EEGSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
}

// Samples returns stored samples in insertion order.
func (s *MemStore) Samples() []types.EEGSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EEGSample, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *MemStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemStore) IsStudentEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[classID][studentID], nil
}

func (s *MemStore) ListClassStudents(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.StudentProfile{}
	for id := range s.enrollments[classID] {
		out = append(out, s.users[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) SaveSample(ctx context.Context, sample *types.EEGSample) error {
	s.mu.Lock()
	err, hook := s.SaveErr, s.SaveHook
	if err == nil {
		s.samples = append(s.samples, *sample)
	}
	s.mu.Unlock()
	if hook != nil {
		hook(sample)
	}
	return err
}

func (s *MemStore) ListSessionSamples(ctx context.Context, sessionID string) ([]types.EEGSample, error) {
	if s.ListBlocks != nil {
		select {
		case <-s.ListBlocks:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []types.EEGSample{}
	for _, sample := range s.samples {
		if sample.SessionID == sessionID {
			out = append(out, sample)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemStore) UpsertSessionMetrics(ctx context.Context, metrics *types.SessionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *metrics
	s.sessionMetrics[metrics.SessionID] = &cp
	return nil
}

func (s *MemStore) UpsertStudentMetrics(ctx context.Context, sessionID string, students []types.StudentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.studentMetrics[sessionID] == nil {
		s.studentMetrics[sessionID] = make(map[string]types.StudentMetrics)
	}
	for _, m := range students {
		s.studentMetrics[sessionID][m.StudentID] = m
	}
	return nil
}

// StudentMetricsRows counts stored per-student rows for a session.
func (s *MemStore) StudentMetricsRows(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.studentMetrics[sessionID])
}

func (s *MemStore) GetSessionMetrics(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessionMetrics[sessionID]
	if !ok {
		return nil, interfaces.ErrMetricsNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.HealthErr
}

func (s *MemStore) Close() error { return nil }

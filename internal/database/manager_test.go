package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	dbconfig "mindlink/pkg/database"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.RetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

// seedClassroom creates teacher t1, students st1/st2 enrolled in c1, outsider
// st3 and session s1 in the given status.
func seedClassroom(t *testing.T, s Seeder, status types.SessionStatus) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	steps := []func() error{
		func() error { return s.CreateUser(ctx, "t1", "t1@example.com", "Ms Teacher", types.RoleTeacher) },
		func() error { return s.CreateUser(ctx, "st1", "st1@example.com", "Ada", types.RoleStudent) },
		func() error { return s.CreateUser(ctx, "st2", "st2@example.com", "Bo", types.RoleStudent) },
		func() error { return s.CreateUser(ctx, "st3", "st3@example.com", "Cy", types.RoleStudent) },
		func() error { return s.CreateClass(ctx, "c1", "Biology", "t1") },
		func() error { return s.EnrollStudent(ctx, "c1", "st1") },
		func() error { return s.EnrollStudent(ctx, "c1", "st2") },
		func() error {
			return s.CreateSession(ctx, &types.Session{
				ID: "s1", ClassID: "c1", TeacherID: "t1", Title: "Cells", Status: status, StartTime: &start,
			})
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("seed step %d failed: %v", i, err)
		}
	}
}

func TestManager_GetSession(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionActive)
	ctx := context.Background()

	session, err := manager.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.TeacherID != "t1" || session.ClassID != "c1" || session.Status != types.SessionActive {
		t.Errorf("unexpected session: %+v", session)
	}
	if session.StartTime == nil || !session.StartTime.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start time: %v", session.StartTime)
	}
	if session.EndTime != nil {
		t.Errorf("expected nil end time, got %v", session.EndTime)
	}

	if _, err := manager.GetSession(ctx, "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_EnrollmentAndRoster(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionActive)
	ctx := context.Background()

	enrolled, err := manager.IsStudentEnrolled(ctx, "c1", "st1")
	if err != nil || !enrolled {
		t.Errorf("st1 should be enrolled (err=%v)", err)
	}
	enrolled, err = manager.IsStudentEnrolled(ctx, "c1", "st3")
	if err != nil || enrolled {
		t.Errorf("st3 should not be enrolled (err=%v)", err)
	}

	roster, err := manager.ListClassStudents(ctx, "c1")
	if err != nil {
		t.Fatalf("ListClassStudents failed: %v", err)
	}
	if len(roster) != 2 || roster[0].Name != "Ada" || roster[1].Name != "Bo" {
		t.Errorf("unexpected roster: %+v", roster)
	}
}

func TestManager_UpdateSessionStatus(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionScheduled)
	ctx := context.Background()

	if err := manager.UpdateSessionStatus(ctx, "s1", types.SessionActive); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	session, _ := manager.GetSession(ctx, "s1")
	if session.Status != types.SessionActive {
		t.Errorf("expected active, got %s", session.Status)
	}
	if err := manager.UpdateSessionStatus(ctx, "missing", types.SessionActive); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_SamplesRoundTripInOrder(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionActive)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	// Insert out of order; reads come back by timestamp.
	for i, offset := range []int{30, 10, 20} {
		sample := &types.EEGSample{
			ID:         string(rune('a' + i)),
			SessionID:  "s1",
			StudentID:  "st1",
			Timestamp:  base.Add(time.Duration(offset) * time.Second),
			Attention:  float64(offset),
			Relaxation: 50,
			Alpha:      1.25,
		}
		if err := manager.SaveSample(ctx, sample); err != nil {
			t.Fatalf("SaveSample failed: %v", err)
		}
	}

	samples, err := manager.ListSessionSamples(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSessionSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i, want := range []float64{10, 20, 30} {
		if samples[i].Attention != want {
			t.Errorf("sample %d: expected attention %v, got %v", i, want, samples[i].Attention)
		}
	}
	if samples[0].Alpha != 1.25 || samples[0].StudentID != "st1" {
		t.Errorf("unexpected sample content: %+v", samples[0])
	}
}

func TestManager_SaveSampleUnknownSessionFails(t *testing.T) {
	manager := setupTestDB(t)
	err := manager.SaveSample(context.Background(), &types.EEGSample{
		ID: "x", SessionID: "nope", StudentID: "st1", Timestamp: time.Now(), Attention: 1, Relaxation: 1,
	})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}
}

func TestManager_MetricsUpsertIsIdempotent(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionActive)
	ctx := context.Background()

	if _, err := manager.GetSessionMetrics(ctx, "s1"); !errors.Is(err, interfaces.ErrMetricsNotFound) {
		t.Fatalf("expected ErrMetricsNotFound before calculation, got %v", err)
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	metrics := &types.SessionMetrics{
		SessionID:    "s1",
		Overall:      types.OverallMetrics{TotalSamples: 4, TotalStudents: 1, AvgAttention: 55.5},
		CalculatedAt: now,
		Students: []types.StudentMetrics{{
			StudentID: "st1", StudentName: "Ada", AvgAttention: 55.5, SampleCount: 4,
			FirstSampleAt: now.Add(-time.Minute), LastSampleAt: now,
		}},
	}
	for i := 0; i < 2; i++ {
		if err := manager.UpsertSessionMetrics(ctx, metrics); err != nil {
			t.Fatalf("UpsertSessionMetrics run %d failed: %v", i, err)
		}
		if err := manager.UpsertStudentMetrics(ctx, "s1", metrics.Students); err != nil {
			t.Fatalf("UpsertStudentMetrics run %d failed: %v", i, err)
		}
		metrics.Overall.TotalSamples = 8
	}

	got, err := manager.GetSessionMetrics(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionMetrics failed: %v", err)
	}
	if got.Overall.TotalSamples != 8 {
		t.Errorf("expected overwritten total 8, got %d", got.Overall.TotalSamples)
	}
	if len(got.Students) != 1 || got.Students[0].StudentName != "Ada" {
		t.Errorf("unexpected students: %+v", got.Students)
	}

	var rows int
	if err := manager.DB().Get(&rows, "SELECT COUNT(*) FROM student_metrics WHERE session_id = 's1'"); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected 1 student_metrics row, got %d", rows)
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	manager := setupTestDB(t)
	seedClassroom(t, manager, types.SessionActive)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- manager.SaveSample(ctx, &types.EEGSample{
				ID: fmt.Sprintf("sample-%d", i), SessionID: "s1", StudentID: "st2",
				Timestamp: time.Now(), Attention: 50, Relaxation: 50,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write failed: %v", err)
		}
	}

	samples, _ := manager.ListSessionSamples(ctx, "s1")
	if len(samples) != 50 {
		t.Errorf("expected 50 samples, got %d", len(samples))
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	err := manager.SaveSample(ctx, &types.EEGSample{ID: "late", SessionID: "s1", StudentID: "st1"})
	if !errors.Is(err, interfaces.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed after close, got %v", err)
	}
}

func TestOpen_SelectsSQLiteByDefault(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "nested", "open.db")

	backend, err := Open(context.Background(), config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = backend.Close() }()

	if _, ok := backend.(*Manager); !ok {
		t.Errorf("expected *Manager, got %T", backend)
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.Driver = "mysql"
	if _, err := Open(context.Background(), config, zaptest.NewLogger(t)); err == nil {
		t.Error("expected invalid driver to be rejected")
	}
}

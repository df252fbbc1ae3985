package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	dbconfig "mindlink/pkg/database"
	"mindlink/pkg/types"
)

// Runs only when MINDLINK_TEST_DATABASE_URL points at a disposable database.
func TestPostgresStore_RoundTrip(t *testing.T) {
	url := os.Getenv("MINDLINK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MINDLINK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	config := dbconfig.DefaultConfig()
	config.Driver = dbconfig.DriverPostgres
	config.DatabaseURL = url

	store, err := NewPostgresStore(ctx, config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	suffix := uuid.NewString()[:8]
	teacher, student, class, session := "t-"+suffix, "st-"+suffix, "c-"+suffix, "s-"+suffix
	if err := store.CreateUser(ctx, teacher, teacher+"@example.com", "T", types.RoleTeacher); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateUser(ctx, student, student+"@example.com", "S", types.RoleStudent); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateClass(ctx, class, "Class", teacher); err != nil {
		t.Fatalf("CreateClass failed: %v", err)
	}
	if err := store.EnrollStudent(ctx, class, student); err != nil {
		t.Fatalf("EnrollStudent failed: %v", err)
	}
	if err := store.CreateSession(ctx, &types.Session{ID: session, ClassID: class, TeacherID: teacher, Status: types.SessionActive}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	enrolled, err := store.IsStudentEnrolled(ctx, class, student)
	if err != nil || !enrolled {
		t.Fatalf("expected enrollment (err=%v)", err)
	}

	sample := &types.EEGSample{ID: uuid.NewString(), SessionID: session, StudentID: student,
		Timestamp: time.Now(), Attention: 42, Relaxation: 24}
	if err := store.SaveSample(ctx, sample); err != nil {
		t.Fatalf("SaveSample failed: %v", err)
	}
	samples, err := store.ListSessionSamples(ctx, session)
	if err != nil || len(samples) != 1 || samples[0].Attention != 42 {
		t.Fatalf("unexpected samples %+v (err=%v)", samples, err)
	}

	metrics := &types.SessionMetrics{SessionID: session, CalculatedAt: time.Now(),
		Overall: types.OverallMetrics{TotalSamples: 1, TotalStudents: 1}}
	if err := store.UpsertSessionMetrics(ctx, metrics); err != nil {
		t.Fatalf("UpsertSessionMetrics failed: %v", err)
	}
	got, err := store.GetSessionMetrics(ctx, session)
	if err != nil || got.Overall.TotalSamples != 1 {
		t.Fatalf("unexpected metrics %+v (err=%v)", got, err)
	}
}

package interfaces

import (
	"context"

	"mindlink/pkg/types"
)

// Store is the persistence boundary used by the coordination core and the
// metrics aggregator. Users, classes and sessions are owned by other services;
// this module only reads them.
type Store interface {
	// GetSession returns ErrSessionNotFound when the id is unknown.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	IsStudentEnrolled(ctx context.Context, classID, studentID string) (bool, error)

	// ListClassStudents returns the roster ordered by name.
	ListClassStudents(ctx context.Context, classID string) ([]types.StudentProfile, error)

	// SaveSample persists one validated sample. Samples are never updated.
	SaveSample(ctx context.Context, sample *types.EEGSample) error

	// ListSessionSamples returns every sample of a session ordered by timestamp.
	ListSessionSamples(ctx context.Context, sessionID string) ([]types.EEGSample, error)

	// UpsertSessionMetrics and UpsertStudentMetrics overwrite any previous aggregate.
	UpsertSessionMetrics(ctx context.Context, metrics *types.SessionMetrics) error
	UpsertStudentMetrics(ctx context.Context, sessionID string, students []types.StudentMetrics) error

	// GetSessionMetrics returns ErrMetricsNotFound when nothing was calculated yet.
	GetSessionMetrics(ctx context.Context, sessionID string) (*types.SessionMetrics, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

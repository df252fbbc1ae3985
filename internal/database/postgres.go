package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	dbconfig "mindlink/pkg/database"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

var postgresMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		teacher_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (class_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL REFERENCES classes(id),
		teacher_id TEXT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'scheduled',
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS eeg_samples (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		attention DOUBLE PRECISION NOT NULL,
		relaxation DOUBLE PRECISION NOT NULL,
		delta DOUBLE PRECISION NOT NULL DEFAULT 0,
		theta DOUBLE PRECISION NOT NULL DEFAULT 0,
		alpha DOUBLE PRECISION NOT NULL DEFAULT 0,
		beta DOUBLE PRECISION NOT NULL DEFAULT 0,
		gamma DOUBLE PRECISION NOT NULL DEFAULT 0,
		signal_quality DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eeg_samples_session_time ON eeg_samples (session_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS session_metrics (
		session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		total_samples INTEGER NOT NULL,
		total_students INTEGER NOT NULL,
		avg_attention DOUBLE PRECISION NOT NULL,
		avg_relaxation DOUBLE PRECISION NOT NULL,
		min_attention DOUBLE PRECISION NOT NULL,
		max_attention DOUBLE PRECISION NOT NULL,
		avg_signal_quality DOUBLE PRECISION NOT NULL,
		payload JSONB NOT NULL,
		calculated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS student_metrics (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		avg_attention DOUBLE PRECISION NOT NULL,
		min_attention DOUBLE PRECISION NOT NULL,
		max_attention DOUBLE PRECISION NOT NULL,
		avg_relaxation DOUBLE PRECISION NOT NULL,
		avg_signal_quality DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		first_sample_at TIMESTAMPTZ NOT NULL,
		last_sample_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, student_id)
	)`,
}

// PostgresStore implements interfaces.Store on a pgx pool. Postgres handles
// concurrent writers itself, so there is no writer goroutine.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ interfaces.Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, config *dbconfig.Config, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunPostgresMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logger.Named("postgres").Info("database ready")
	return &PostgresStore{pool: pool, logger: logger.Named("postgres")}, nil
}

// RunPostgresMigration applies the idempotent schema statements in order.
func RunPostgresMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range postgresMigrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, class_id, teacher_id, title, status, start_time, end_time
		 FROM sessions WHERE id = $1`, sessionID)
	var session types.Session
	var status string
	err := row.Scan(&session.ID, &session.ClassID, &session.TeacherID, &session.Title,
		&status, &session.StartTime, &session.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	session.Status = types.SessionStatus(status)
	return &session, nil
}

func (s *PostgresStore) IsStudentEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2)`,
		classID, studentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListClassStudents(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.email
		 FROM enrollments e JOIN users u ON u.id = e.student_id
		 WHERE e.class_id = $1 ORDER BY u.name, u.id`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class students: %w", err)
	}
	defer rows.Close()

	list := []types.StudentProfile{}
	for rows.Next() {
		var p types.StudentProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *PostgresStore) SaveSample(ctx context.Context, sample *types.EEGSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO eeg_samples (id, session_id, student_id, timestamp, attention, relaxation,
			delta, theta, alpha, beta, gamma, signal_quality)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sample.ID, sample.SessionID, sample.StudentID, sample.Timestamp.UTC(), sample.Attention,
		sample.Relaxation, sample.Delta, sample.Theta, sample.Alpha, sample.Beta, sample.Gamma,
		sample.SignalQuality)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSessionSamples(ctx context.Context, sessionID string) ([]types.EEGSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, student_id, timestamp, attention, relaxation,
			delta, theta, alpha, beta, gamma, signal_quality
		 FROM eeg_samples WHERE session_id = $1 ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	list := []types.EEGSample{}
	for rows.Next() {
		var e types.EEGSample
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StudentID, &e.Timestamp, &e.Attention,
			&e.Relaxation, &e.Delta, &e.Theta, &e.Alpha, &e.Beta, &e.Gamma, &e.SignalQuality); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (s *PostgresStore) UpsertSessionMetrics(ctx context.Context, metrics *types.SessionMetrics) error {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal session metrics: %w", err)
	}
	o := metrics.Overall
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_metrics (session_id, total_samples, total_students, avg_attention,
			avg_relaxation, min_attention, max_attention, avg_signal_quality, payload, calculated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE SET
			total_samples = EXCLUDED.total_samples,
			total_students = EXCLUDED.total_students,
			avg_attention = EXCLUDED.avg_attention,
			avg_relaxation = EXCLUDED.avg_relaxation,
			min_attention = EXCLUDED.min_attention,
			max_attention = EXCLUDED.max_attention,
			avg_signal_quality = EXCLUDED.avg_signal_quality,
			payload = EXCLUDED.payload,
			calculated_at = EXCLUDED.calculated_at`,
		metrics.SessionID, o.TotalSamples, o.TotalStudents, o.AvgAttention, o.AvgRelaxation,
		o.MinAttention, o.MaxAttention, o.AvgSignalQuality, payload, metrics.CalculatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert session metrics: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertStudentMetrics(ctx context.Context, sessionID string, students []types.StudentMetrics) error {
	batch := &pgx.Batch{}
	for _, m := range students {
		batch.Queue(
			`INSERT INTO student_metrics (session_id, student_id, student_name, avg_attention,
				min_attention, max_attention, avg_relaxation, avg_signal_quality, sample_count,
				duration_seconds, first_sample_at, last_sample_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (session_id, student_id) DO UPDATE SET
				student_name = EXCLUDED.student_name,
				avg_attention = EXCLUDED.avg_attention,
				min_attention = EXCLUDED.min_attention,
				max_attention = EXCLUDED.max_attention,
				avg_relaxation = EXCLUDED.avg_relaxation,
				avg_signal_quality = EXCLUDED.avg_signal_quality,
				sample_count = EXCLUDED.sample_count,
				duration_seconds = EXCLUDED.duration_seconds,
				first_sample_at = EXCLUDED.first_sample_at,
				last_sample_at = EXCLUDED.last_sample_at`,
			sessionID, m.StudentID, m.StudentName, m.AvgAttention, m.MinAttention, m.MaxAttention,
			m.AvgRelaxation, m.AvgSignalQuality, m.SampleCount, m.DurationSeconds,
			m.FirstSampleAt.UTC(), m.LastSampleAt.UTC())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert student metrics: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSessionMetrics(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM session_metrics WHERE session_id = $1`, sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrMetricsNotFound
		}
		return nil, fmt.Errorf("failed to query session metrics: %w", err)
	}
	var metrics types.SessionMetrics
	if err := json.Unmarshal(payload, &metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metrics: %w", err)
	}
	return &metrics, nil
}

// Seed helpers mirror the SQLite manager so tests can run against either store.

func (s *PostgresStore) CreateUser(ctx context.Context, id, email, name string, role types.Role) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (id, email, name, role) VALUES ($1, $2, $3, $4)`,
		id, email, name, string(role))
	return err
}

func (s *PostgresStore) CreateClass(ctx context.Context, id, name, teacherID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO classes (id, name, teacher_id) VALUES ($1, $2, $3)`, id, name, teacherID)
	return err
}

func (s *PostgresStore) EnrollStudent(ctx context.Context, classID, studentID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrollments (class_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, classID, studentID)
	return err
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *types.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, class_id, teacher_id, title, status, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.ClassID, session.TeacherID, session.Title, string(session.Status),
		session.StartTime, session.EndTime)
	return err
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

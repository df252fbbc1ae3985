package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "mindlink/pkg/database"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

const writeTimeout = 30 * time.Second

// Manager is the SQLite implementation of interfaces.Store.
// Reads run concurrently on the pool; writes are serialized through writeLoop.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and pending migrations, and
// starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if dir := filepath.Dir(config.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, pragma := range dbconfig.SQLitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if err := dbconfig.NewMigrationManager(db.DB).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db.DB).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("sqlite"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	manager.logger.Info("database ready", zap.String("path", config.DatabasePath))
	return manager, nil
}

// writeLoop retries a failed write exactly once after the configured delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying",
					zap.Duration("delay", m.config.RetryDelay), zap.Error(err))
				select {
				case <-time.After(m.config.RetryDelay):
					err = op.operation(m.db)
					if err != nil {
						m.logger.Error("database write failed after retry", zap.Error(err))
					}
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(writeTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	}
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var session types.Session
	err := m.db.GetContext(ctx, &session, `
		SELECT id, class_id, teacher_id, title, status, start_time, end_time
		FROM sessions
		WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &session, nil
}

func (m *Manager) IsStudentEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var count int
	err := m.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM enrollments WHERE class_id = ? AND student_id = ?", classID, studentID)
	if err != nil {
		return false, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return count > 0, nil
}

func (m *Manager) ListClassStudents(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	students := []types.StudentProfile{}
	err := m.db.SelectContext(ctx, &students, `
		SELECT u.id, u.name, u.email
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.class_id = ?
		ORDER BY u.name, u.id`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class students: %w", err)
	}
	return students, nil
}

func (m *Manager) SaveSample(ctx context.Context, sample *types.EEGSample) error {
	row := *sample
	row.Timestamp = row.Timestamp.UTC()
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO eeg_samples (id, session_id, student_id, timestamp, attention, relaxation,
				delta, theta, alpha, beta, gamma, signal_quality)
			VALUES (:id, :session_id, :student_id, :timestamp, :attention, :relaxation,
				:delta, :theta, :alpha, :beta, :gamma, :signal_quality)`, &row)
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
		return nil
	})
}

func (m *Manager) ListSessionSamples(ctx context.Context, sessionID string) ([]types.EEGSample, error) {
	samples := []types.EEGSample{}
	err := m.db.SelectContext(ctx, &samples, `
		SELECT id, session_id, student_id, timestamp, attention, relaxation,
			delta, theta, alpha, beta, gamma, signal_quality
		FROM eeg_samples
		WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	return samples, nil
}

func (m *Manager) UpsertSessionMetrics(ctx context.Context, metrics *types.SessionMetrics) error {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal session metrics: %w", err)
	}
	o := metrics.Overall
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_metrics (session_id, total_samples, total_students, avg_attention,
				avg_relaxation, min_attention, max_attention, avg_signal_quality, payload, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				total_samples = excluded.total_samples,
				total_students = excluded.total_students,
				avg_attention = excluded.avg_attention,
				avg_relaxation = excluded.avg_relaxation,
				min_attention = excluded.min_attention,
				max_attention = excluded.max_attention,
				avg_signal_quality = excluded.avg_signal_quality,
				payload = excluded.payload,
				calculated_at = excluded.calculated_at`,
			metrics.SessionID, o.TotalSamples, o.TotalStudents, o.AvgAttention, o.AvgRelaxation,
			o.MinAttention, o.MaxAttention, o.AvgSignalQuality, string(payload), metrics.CalculatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert session metrics: %w", err)
		}
		return nil
	})
}

func (m *Manager) UpsertStudentMetrics(ctx context.Context, sessionID string, students []types.StudentMetrics) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, s := range students {
			row := s
			row.SessionID = sessionID
			row.FirstSampleAt = row.FirstSampleAt.UTC()
			row.LastSampleAt = row.LastSampleAt.UTC()
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO student_metrics (session_id, student_id, student_name, avg_attention,
					min_attention, max_attention, avg_relaxation, avg_signal_quality, sample_count,
					duration_seconds, first_sample_at, last_sample_at)
				VALUES (:session_id, :student_id, :student_name, :avg_attention,
					:min_attention, :max_attention, :avg_relaxation, :avg_signal_quality, :sample_count,
					:duration_seconds, :first_sample_at, :last_sample_at)
				ON CONFLICT(session_id, student_id) DO UPDATE SET
					student_name = excluded.student_name,
					avg_attention = excluded.avg_attention,
					min_attention = excluded.min_attention,
					max_attention = excluded.max_attention,
					avg_relaxation = excluded.avg_relaxation,
					avg_signal_quality = excluded.avg_signal_quality,
					sample_count = excluded.sample_count,
					duration_seconds = excluded.duration_seconds,
					first_sample_at = excluded.first_sample_at,
					last_sample_at = excluded.last_sample_at`, &row)
			if err != nil {
				return fmt.Errorf("failed to upsert student metrics for %s: %w", s.StudentID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit student metrics: %w", err)
		}
		return nil
	})
}

func (m *Manager) GetSessionMetrics(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	var payload string
	err := m.db.GetContext(ctx, &payload, "SELECT payload FROM session_metrics WHERE session_id = ?", sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMetricsNotFound
		}
		return nil, fmt.Errorf("failed to query session metrics: %w", err)
	}

	var metrics types.SessionMetrics
	if err := json.Unmarshal([]byte(payload), &metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metrics: %w", err)
	}
	return &metrics, nil
}

// CreateUser inserts a platform user. Used for seeding and tests; the
// platform's CRUD service owns these rows in production.
func (m *Manager) CreateUser(ctx context.Context, id, email, name string, role types.Role) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, email, name, role) VALUES (?, ?, ?, ?)", id, email, name, string(role))
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

func (m *Manager) CreateClass(ctx context.Context, id, name, teacherID string) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO classes (id, name, teacher_id) VALUES (?, ?, ?)", id, name, teacherID)
		if err != nil {
			return fmt.Errorf("failed to insert class: %w", err)
		}
		return nil
	})
}

func (m *Manager) EnrollStudent(ctx context.Context, classID, studentID string) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO enrollments (class_id, student_id) VALUES (?, ?)", classID, studentID)
		if err != nil {
			return fmt.Errorf("failed to enroll student: %w", err)
		}
		return nil
	})
}

func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	row := *session
	if row.StartTime != nil {
		t := row.StartTime.UTC()
		row.StartTime = &t
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO sessions (id, class_id, teacher_id, title, status, start_time, end_time)
			VALUES (:id, :class_id, :teacher_id, :title, :status, :start_time, :end_time)`, &row)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

func (m *Manager) UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE id = ?", string(status), sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// HealthCheck validates connectivity and that the schema is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sessions"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for migrations and tests.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

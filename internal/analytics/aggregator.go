package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mindlink/internal/instrument"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

type Config struct {
	Timeout    time.Duration
	BucketSize time.Duration
}

// Aggregator turns stored samples into session metrics and keeps the
// metrics tables and the optional hot cache up to date.
type Aggregator struct {
	store   interfaces.Store
	cache   Cache
	config  Config
	logger  *zap.Logger
	metrics *instrument.Metrics
	now     func() time.Time
}

// NewAggregator uses NoopCache when cache is nil.
func NewAggregator(store interfaces.Store, cache Cache, config Config, logger *zap.Logger, metrics *instrument.Metrics) *Aggregator {
	if cache == nil {
		cache = NoopCache{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BucketSize <= 0 {
		config.BucketSize = DefaultBucketSize
	}
	return &Aggregator{
		store:   store,
		cache:   cache,
		config:  config,
		logger:  logger.Named("analytics"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Calculate recomputes the metrics of a session and overwrites every cached
// copy. Hitting the deadline yields an Aggregation error, never partial metrics.
func (a *Aggregator) Calculate(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	result, err := a.calculate(ctx, sessionID)
	a.metrics.AggregationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		a.metrics.AggregationErrors.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("metrics calculation timed out",
				zap.String("session_id", sessionID), zap.Duration("timeout", a.config.Timeout))
			return nil, types.AggregationError(ErrCalculationTimeout.Error(), err)
		}
		return nil, err
	}

	a.logger.Info("session metrics calculated",
		zap.String("session_id", sessionID),
		zap.Int("samples", result.Overall.TotalSamples),
		zap.Int("students", result.Overall.TotalStudents))
	return result, nil
}

func (a *Aggregator) calculate(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NotFoundError("session not found")
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	samples, err := a.store.ListSessionSamples(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}
	roster, err := a.store.ListClassStudents(ctx, session.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	names := make(map[string]string, len(roster))
	for _, p := range roster {
		names[p.ID] = p.Name
	}

	result := Compute(session, samples, names, a.config.BucketSize, a.now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := a.store.UpsertSessionMetrics(ctx, result); err != nil {
		return nil, types.PersistenceError("failed to store session metrics", err)
	}
	if err := a.store.UpsertStudentMetrics(ctx, sessionID, result.Students); err != nil {
		return nil, types.PersistenceError("failed to store student metrics", err)
	}
	if err := a.cache.Set(ctx, result); err != nil {
		a.logger.Warn("failed to cache metrics", zap.String("session_id", sessionID), zap.Error(err))
	}
	return result, nil
}

// GetCached reads previously calculated metrics without recomputing.
func (a *Aggregator) GetCached(ctx context.Context, sessionID string) (*types.SessionMetrics, bool, error) {
	cached, err := a.cache.Get(ctx, sessionID)
	if err == nil {
		return cached, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		a.logger.Warn("metrics cache unavailable", zap.String("session_id", sessionID), zap.Error(err))
	}

	stored, err := a.store.GetSessionMetrics(ctx, sessionID)
	if errors.Is(err, interfaces.ErrMetricsNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session metrics: %w", err)
	}
	if err := a.cache.Set(ctx, stored); err != nil {
		a.logger.Debug("failed to warm metrics cache", zap.String("session_id", sessionID), zap.Error(err))
	}
	return stored, true, nil
}

// Get returns cached metrics, calculating them on a miss.
func (a *Aggregator) Get(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	cached, found, err := a.GetCached(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if found {
		return cached, nil
	}
	return a.Calculate(ctx, sessionID)
}

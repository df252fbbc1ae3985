package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mindlink/internal/instrument"
	"mindlink/internal/room"
	"mindlink/internal/router"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Config sizes the persistence pipeline.
type Config struct {
	PersistWorkers int
	QueueSize      int
	PersistTimeout time.Duration
}

// DefaultConfig matches the service defaults in internal/config.
func DefaultConfig() Config {
	return Config{PersistWorkers: 4, QueueSize: 1000, PersistTimeout: 10 * time.Second}
}

type persistJob struct {
	sample *types.EEGSample
	conn   interfaces.Connection
}

// Hub owns the room state machine and the telemetry pipeline. Handlers are
// registered on a router; the hub itself never reads from sockets.
type Hub struct {
	registry *room.Registry
	sessions interfaces.SessionManager
	store    interfaces.Store
	config   Config
	logger   *zap.Logger
	metrics  *instrument.Metrics
	now      func() time.Time
	newID    func() string

	queue chan persistJob
	stop  chan struct{}
	wg    sync.WaitGroup

	running bool
	mu      sync.RWMutex
}

// NewHub builds a stopped hub; zero config fields fall back to DefaultConfig.
func NewHub(registry *room.Registry, sessions interfaces.SessionManager, store interfaces.Store,
	config Config, logger *zap.Logger, metrics *instrument.Metrics) *Hub {
	if config.PersistWorkers <= 0 {
		config.PersistWorkers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultConfig().PersistTimeout
	}
	return &Hub{
		registry: registry,
		sessions: sessions,
		store:    store,
		config:   config,
		logger:   logger.Named("hub"),
		metrics:  metrics,
		now:      time.Now,
		newID:    newSampleID,
		queue:    make(chan persistJob, config.QueueSize),
	}
}

// Register binds every client event and the disconnect hook.
func (h *Hub) Register(r *router.Router) {
	r.Handle(types.EventTeacherJoin, h.TeacherJoin)
	r.Handle(types.EventTeacherLeave, h.TeacherLeave)
	r.Handle(types.EventTeacherGetStudents, h.TeacherGetStudents)
	r.Handle(types.EventStudentJoin, h.StudentJoin)
	r.Handle(types.EventStudentLeave, h.StudentLeave)
	r.Handle(types.EventEEGData, h.Telemetry)
	r.OnDisconnect(h.Disconnect)
}

// Start launches the persistence workers.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.stop = make(chan struct{})

	for i := 0; i < h.config.PersistWorkers; i++ {
		h.wg.Add(1)
		go h.persistWorker(ctx, i)
	}
	h.logger.Info("hub started", zap.Int("persist_workers", h.config.PersistWorkers),
		zap.Int("queue_size", h.config.QueueSize))
	return nil
}

// Stop halts the workers after they flush whatever is still queued.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stop)
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("hub stopped")
	return nil
}

// IsRunning reports whether the persistence workers are up.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Registry exposes the room registry for health reporting.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

func (h *Hub) emit(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.Emit(event, data); err != nil {
		h.logger.Debug("emit failed", zap.String("conn_id", conn.ID()),
			zap.String("event", event), zap.Error(err))
	}
}

// broadcast sends to every connection in conns except the one with skipID.
func (h *Hub) broadcast(conns []interfaces.Connection, skipID, event string, data interface{}) {
	for _, c := range conns {
		if c.ID() == skipID {
			continue
		}
		h.emit(c, event, data)
	}
}

func (h *Hub) updateRoomGauge() {
	h.metrics.ActiveRooms.Set(float64(h.registry.GetStats().Rooms))
}

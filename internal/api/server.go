package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mindlink/internal/analytics"
	"mindlink/internal/auth"
	"mindlink/internal/instrument"
	"mindlink/internal/room"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// MetricsService is the aggregator as seen by the HTTP layer.
type MetricsService interface {
	Calculate(ctx context.Context, sessionID string) (*types.SessionMetrics, error)
	Get(ctx context.Context, sessionID string) (*types.SessionMetrics, error)
}

// ViewerAuthorizer decides who may read a session's metrics.
type ViewerAuthorizer interface {
	AuthorizeViewer(ctx context.Context, sessionID string, identity *types.Identity) (*types.Session, error)
}

// SocketHandler is the WebSocket endpoint.
type SocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ActiveConnections() int
}

// Server is the HTTP surface: metrics endpoints, health, Prometheus and the
// WebSocket upgrade. It holds no business logic.
type Server struct {
	store    interfaces.Store
	registry *room.Registry
	viewers  ViewerAuthorizer
	metrics  MetricsService
	auth     *auth.Authenticator
	sockets  SocketHandler
	instr    *instrument.Metrics
	logger   *zap.Logger
	started  time.Time
	router   chi.Router
}

// NewServer mounts every route on a chi router.
func NewServer(store interfaces.Store, registry *room.Registry, viewers ViewerAuthorizer, metrics MetricsService,
	authenticator *auth.Authenticator, sockets SocketHandler, instr *instrument.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		viewers:  viewers,
		metrics:  metrics,
		auth:     authenticator,
		sockets:  sockets,
		instr:    instr,
		logger:   logger.Named("api"),
		started:  time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthCheck)
	r.Handle("/internal/metrics", s.instr.Handler())
	r.Get("/ws", s.sockets.HandleWebSocket)

	r.Route("/metrics/sessions/{sessionID}", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/calculate", s.handleCalculate)
		r.Get("/", s.handleGetMetrics)
		r.Get("/export", s.handleExport)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// authorize resolves the session and checks the caller may view it.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	identity := auth.IdentityFrom(r.Context())
	if _, err := s.viewers.AuthorizeViewer(r.Context(), sessionID, identity); err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return sessionID, true
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.authorize(w, r)
	if !ok {
		return
	}
	result, err := s.metrics.Calculate(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.authorize(w, r)
	if !ok {
		return
	}
	result, err := s.metrics.Get(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.authorize(w, r)
	if !ok {
		return
	}
	result, err := s.metrics.Get(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+analytics.ExportFilename(sessionID)+`"`)
	w.WriteHeader(http.StatusOK)
	if err := analytics.WriteCSV(w, result); err != nil {
		s.logger.Warn("csv export interrupted", zap.String("session_id", sessionID), zap.Error(err))
	}
}

type HealthResponse struct {
	Status      string     `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
	Database    string     `json:"database"`
	Rooms       room.Stats `json:"rooms"`
	Connections int        `json:"connections"`
	Goroutines  int        `json:"goroutines"`
	Uptime      string     `json:"uptime"`
}

// healthCheck answers 503 when the store does not respond.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Rooms:       s.registry.GetStats(),
		Connections: s.sockets.ActiveConnections(),
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		response.Status = "unhealthy"
		response.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Envelope{Success: status == http.StatusOK, Data: response})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	}
	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", fields...)
	case status == http.StatusForbidden:
		s.logger.Warn("security: permission denied", fields...)
	default:
		s.logger.Debug("request rejected", fields...)
	}
	writeError(w, status, types.PublicMessage(err))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

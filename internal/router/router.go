package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"mindlink/internal/instrument"
	"mindlink/internal/logging"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// HandlerFunc handles one inbound event. Returned errors are reported to the
// sender as an error frame naming the event.
type HandlerFunc func(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error

// DisconnectFunc runs once when a connection closes.
type DisconnectFunc func(ctx context.Context, conn interfaces.Connection)

// ErrorPayload is the body of an "error" frame.
type ErrorPayload struct {
	Message   string     `json:"message"`
	Event     string     `json:"event,omitempty"`
	Limit     *int       `json:"limit,omitempty"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetTime *time.Time `json:"resetTime,omitempty"`
}

// Router is the event dispatch table. Every event passes the same chain:
// rate limit, lookup, handler, error reporting.
type Router struct {
	handlers     map[string]HandlerFunc
	onDisconnect []DisconnectFunc
	limiter      *RateLimiter
	policy       Policy
	logger       *zap.Logger
	metrics      *instrument.Metrics
}

var _ interfaces.EventDispatcher = (*Router)(nil)

// NewRouter returns an empty dispatch table charging events against limiter.
func NewRouter(limiter *RateLimiter, policy Policy, logger *zap.Logger, metrics *instrument.Metrics) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		limiter:  limiter,
		policy:   policy,
		logger:   logger.Named("router"),
		metrics:  metrics,
	}
}

// Handle registers h for event, replacing any previous handler.
func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// OnDisconnect registers a hook run on transport close, in registration order.
func (r *Router) OnDisconnect(fn DisconnectFunc) {
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Events lists registered event names, sorted.
func (r *Router) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		events = append(events, e)
	}
	sort.Strings(events)
	return events
}

// Dispatch runs the chain for one frame.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, event string, data json.RawMessage) {
	// Unregistered names share one bucket so invented events cannot mint new ones.
	key := metricLabel(event, r.handlers)
	decision := r.limiter.Check(conn.ID(), key, r.policy.For(key))
	if !decision.Allowed {
		r.metrics.RateLimited.WithLabelValues(key).Inc()
		r.emitError(conn, event, &types.RateLimitError{
			Event:   event,
			Limit:   decision.Limit,
			ResetAt: decision.ResetAt,
		})
		return
	}

	handler, ok := r.handlers[event]
	if !ok {
		r.emitError(conn, event, types.ValidationError(ErrUnknownEvent.Error()+": "+event, ErrUnknownEvent))
		return
	}

	r.metrics.EventsTotal.WithLabelValues(event).Inc()
	if err := r.invoke(ctx, handler, conn, event, data); err != nil {
		r.report(conn, event, err)
	}
}

// Disconnect runs the disconnect hooks and forgets the connection's buckets.
func (r *Router) Disconnect(ctx context.Context, conn interfaces.Connection) {
	for _, fn := range r.onDisconnect {
		fn(ctx, conn)
	}
	r.limiter.RemoveConnection(conn.ID())
}

func (r *Router) invoke(ctx context.Context, h HandlerFunc, conn interfaces.Connection, event string, data json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				zap.String("event", event), zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, p)
		}
	}()
	return h(ctx, conn, data)
}

func (r *Router) report(conn interfaces.Connection, event string, err error) {
	kind := types.KindOf(err)
	r.metrics.EventErrors.WithLabelValues(event, string(kind)).Inc()

	identity := conn.Identity()
	fields := append(logging.Connection(conn.ID(), identity.ID, string(identity.Role)),
		zap.String("event", event), zap.Error(err))
	switch kind {
	case types.KindPermission:
		r.logger.Warn("security: permission denied", fields...)
	case types.KindInternal, types.KindPersistence:
		r.logger.Error("event handler failed", fields...)
	default:
		r.logger.Debug("event rejected", fields...)
	}
	r.emitError(conn, event, err)
}

func (r *Router) emitError(conn interfaces.Connection, event string, err error) {
	payload := ErrorPayload{Message: types.PublicMessage(err), Event: event}

	var rl *types.RateLimitError
	if errors.As(err, &rl) {
		limit, remaining, reset := rl.Limit, 0, rl.ResetAt
		payload.Limit = &limit
		payload.Remaining = &remaining
		payload.ResetTime = &reset
	}
	if sendErr := conn.Emit(types.EventError, payload); sendErr != nil {
		r.logger.Debug("failed to emit error frame", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
	}
}

// metricLabel keeps label cardinality bounded when clients send arbitrary event names.
func metricLabel(event string, handlers map[string]HandlerFunc) string {
	if _, ok := handlers[event]; ok {
		return event
	}
	return "unknown"
}

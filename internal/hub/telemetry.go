package hub

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

func newSampleID() string {
	return uuid.NewString()
}

// Telemetry handles eeg:data. Session and student come from the connection's
// membership, never from the payload.
func (h *Hub) Telemetry(ctx context.Context, conn interfaces.Connection, data json.RawMessage) error {
	membership := conn.Membership()
	if !membership.Joined() || membership.Role != types.RoleStudent {
		h.metrics.SamplesRejected.WithLabelValues("not_joined").Inc()
		return types.ValidationError(ErrNotJoined.Error(), ErrNotJoined)
	}

	var payload types.EEGPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		return types.ValidationError(types.ErrInvalidEEGData.Error(), err)
	}
	if !payload.HasReadings() {
		h.metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		return types.ValidationError(types.ErrInvalidEEGData.Error(), types.ErrInvalidEEGData)
	}
	// A disconnected headset may also report out-of-range bands; the notice wins.
	if payload.IsDisconnectArtifact() {
		h.metrics.SamplesRejected.WithLabelValues("zero_signal").Inc()
		h.emit(conn, types.EventEEGInvalidData, EEGInvalid{
			Message:       ErrZeroSignal.Error(),
			SignalQuality: payload.SignalQualityValue(),
		})
		return nil
	}
	if err := payload.Validate(); err != nil {
		h.metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		return types.ValidationError(types.ErrInvalidEEGData.Error(), err)
	}

	studentID := conn.Identity().ID
	sample := payload.ToSample(h.newID(), membership.SessionID, studentID)
	if payload.Timestamp != nil {
		sample.Timestamp = payload.Timestamp.UTC()
	} else {
		sample.Timestamp = h.now().UTC()
	}

	if !h.registry.UpdateSample(membership.SessionID, studentID, conn.ID(), sample) {
		// Slot vanished between membership read and update.
		h.metrics.SamplesRejected.WithLabelValues("not_joined").Inc()
		return types.ValidationError(ErrNotJoined.Error(), ErrNotJoined)
	}
	h.metrics.SamplesAccepted.Inc()

	h.enqueue(conn, sample)

	update := EEGUpdate{EEGSample: *sample, StudentName: membership.DisplayName}
	h.broadcast(h.registry.Teachers(membership.SessionID), "", types.EventEEGUpdate, update)

	h.emit(conn, types.EventEEGReceived, EEGReceived{Timestamp: sample.Timestamp})
	return nil
}

// enqueue hands the sample to a persistence worker without blocking.
func (h *Hub) enqueue(conn interfaces.Connection, sample *types.EEGSample) {
	err := h.trySend(persistJob{sample: sample, conn: conn})
	if err != nil {
		h.saveFailed(conn, sample, err)
	}
}

// trySend holds the read lock so Stop cannot start draining mid-send.
func (h *Hub) trySend(job persistJob) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.queue <- job:
		h.metrics.PersistQueueDepth.Set(float64(len(h.queue)))
		return nil
	default:
		return ErrPersistQueueFull
	}
}

func (h *Hub) persistWorker(ctx context.Context, id int) {
	defer h.wg.Done()
	logger := h.logger.With(zap.Int("worker", id))
	logger.Debug("persist worker started")

	for {
		select {
		case job := <-h.queue:
			h.persist(ctx, job)
		case <-h.stop:
			h.drain(ctx)
			logger.Debug("persist worker stopped")
			return
		case <-ctx.Done():
			logger.Debug("persist worker cancelled")
			return
		}
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case job := <-h.queue:
			h.persist(ctx, job)
		default:
			return
		}
	}
}

func (h *Hub) persist(ctx context.Context, job persistJob) {
	h.metrics.PersistQueueDepth.Set(float64(len(h.queue)))

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.PersistTimeout)
	defer cancel()
	if err := h.store.SaveSample(saveCtx, job.sample); err != nil {
		h.saveFailed(job.conn, job.sample, err)
	}
}

// saveFailed reports a lost sample to the student only. The broadcast has
// already happened and is not retracted.
func (h *Hub) saveFailed(conn interfaces.Connection, sample *types.EEGSample, err error) {
	h.metrics.PersistFailures.Inc()
	h.logger.Warn("failed to persist EEG sample",
		zap.String("sample_id", sample.ID),
		zap.String("session_id", sample.SessionID),
		zap.String("student_id", sample.StudentID),
		zap.Error(err))
	h.emit(conn, types.EventEEGSaveFailed, EEGSaveFailed{
		Message:   "sample was not saved",
		SampleID:  sample.ID,
		Timestamp: sample.Timestamp,
	})
}

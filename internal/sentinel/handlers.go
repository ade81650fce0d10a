package sentinel

import (
	"context"
	"time"

	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/store"
	"github.com/casparianflow/sentinel/internal/telemetry"
)

func (s *Server) handleIdentify(ctx context.Context, transportIdentity string, frame protocol.Frame, send chan outboundFrame) (string, error) {
	id, err := protocol.DecodePayload[protocol.IdentifyPayload](frame)
	if err != nil {
		return "", err
	}
	workerID := id.WorkerID
	if workerID == "" {
		workerID = transportIdentity
	}

	handle := &WorkerHandle{
		WorkerID:          workerID,
		TransportIdentity: transportIdentity,
		Capabilities:      id.Capabilities,
		LastHeartbeat:     time.Now(),
		Status:            statusIdle,
		send:              send,
	}
	s.d.workers.Register(handle)

	caps, merr := store.MarshalCapabilities(id.Capabilities)
	if merr != nil {
		return "", merr
	}
	if err := s.d.store.UpsertWorkerNode(ctx, store.WorkerNode{
		WorkerID:          workerID,
		TransportIdentity: transportIdentity,
		Capabilities:      caps,
		Status:            store.WorkerIdle,
	}); err != nil {
		s.d.log.Error("failed to persist worker node mirror", "worker_id", workerID, "error", err)
	}

	s.d.log.Info("worker identified", "worker_id", workerID, "capabilities", id.Capabilities)
	s.d.Wake()
	return workerID, nil
}

func (s *Server) handleHeartbeat(ctx context.Context, workerID string, frame protocol.Frame) {
	if frame.Header.JobID == 0 {
		return
	}
	job, err := s.d.store.GetJob(ctx, frame.Header.JobID)
	if err != nil {
		return
	}
	if job.Status == store.JobClaimed {
		if err := s.d.store.MarkRunning(ctx, job.ID); err != nil {
			s.d.log.Warn("failed to transition job to RUNNING on first heartbeat", "job_id", job.ID, "error", err)
		}
	}
}

func (s *Server) handleConclude(ctx context.Context, workerID string, frame protocol.Frame) {
	receipt, err := protocol.DecodePayload[protocol.JobReceipt](frame)
	if err != nil {
		s.d.log.Error("malformed CONCLUDE payload", "worker_id", workerID, "error", err)
		return
	}
	in := store.ConcludeInput{
		Success:        receipt.Status == protocol.ReceiptSuccess,
		ErrorMessage:   receipt.Error,
		ResultMetrics:  receipt.Metrics,
		QuarantineRows: receipt.QuarantineRows,
		Retryable:      isRetryableErrorKind(receipt.ErrorKind),
		MaxRetries:     s.d.cfg.MaxRetries,
	}
	if err := s.d.store.Conclude(ctx, frame.Header.JobID, in); err != nil {
		s.d.log.Error("failed to apply CONCLUDE", "job_id", frame.Header.JobID, "error", err)
	}
	telemetry.RecordJobConcluded()
	s.d.workers.MarkIdle(workerID)
	s.d.Wake()
}

func (s *Server) handleErr(ctx context.Context, workerID string, frame protocol.Frame) {
	errPayload, err := protocol.DecodePayload[protocol.ErrPayload](frame)
	if err != nil {
		s.d.log.Error("malformed ERR payload", "worker_id", workerID, "error", err)
		return
	}
	s.d.log.Warn("received ERR", "worker_id", workerID, "job_id", frame.Header.JobID, "message", errPayload.Message)
	if frame.Header.JobID != 0 {
		if cerr := s.d.store.Conclude(ctx, frame.Header.JobID, store.ConcludeInput{
			Success:      false,
			ErrorMessage: errPayload.Message,
		}); cerr != nil {
			s.d.log.Error("failed to fail job after ERR", "job_id", frame.Header.JobID, "error", cerr)
		}
		s.d.workers.MarkIdle(workerID)
		s.d.Wake()
	}
}

func (s *Server) handleEnvReady(ctx context.Context, workerID string, frame protocol.Frame) {
	ready, err := protocol.DecodePayload[protocol.EnvReadyPayload](frame)
	if err != nil {
		s.d.log.Error("malformed ENV_READY payload", "worker_id", workerID, "error", err)
		return
	}
	s.d.log.Info("worker environment ready", "worker_id", workerID, "env_hash", ready.EnvHash)
}

func isRetryableErrorKind(kind string) bool {
	switch kind {
	case "timeout", "transient_io":
		return true
	default:
		return false
	}
}

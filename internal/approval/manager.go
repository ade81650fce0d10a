package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/casparianflow/sentinel/internal/hashutil"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/store"
)

// DefaultTTL is the approval expiry window of spec §3.4.
const DefaultTTL = time.Hour

// DefaultCleanupAge bounds how long terminal approvals are retained,
// mirroring original_source's APPROVAL_TTL_DAYS constant.
const DefaultCleanupAge = 7 * 24 * time.Hour

// JobWaker is satisfied by *sentinel.Dispatcher. Approve uses it to nudge
// the claim loop immediately after binding a new Job, rather than leaving
// the new QUEUED row to wait for the next safety tick (spec §5's "wakes
// on: (a) a new job enqueued").
type JobWaker interface {
	Wake()
}

// Manager is the Approval Gate: create/approve/reject/expire/cleanup,
// grounded on original_source's ApprovalManager but backed by
// internal/store's relational Approval table instead of an in-memory map
// plus one-JSON-file-per-approval directory.
type Manager struct {
	store *store.Store
	waker JobWaker
	log   *logger.Logger
}

// New builds a Manager over an already-opened Store. waker may be nil (as
// in tests that only exercise approve/reject bookkeeping); Approve skips
// the wake when it is.
func New(s *store.Store, waker JobWaker, appLog *logger.Logger) *Manager {
	return &Manager{store: s, waker: waker, log: appLog.With("component", "ApprovalManager")}
}

// Request is the externally-visible view of an approval row, decoded from
// its JSON columns.
type Request struct {
	ApprovalID string        `json:"approval_id"`
	Operation  Operation     `json:"operation"`
	Summary    Summary       `json:"summary"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Status     string        `json:"status"`
	StatusData StatusPayload `json:"status_data,omitempty"`
	JobID      *uint64       `json:"job_id,omitempty"`
}

func toRequest(row *store.Approval) (*Request, error) {
	var op Operation
	if err := json.Unmarshal(row.OperationJSON, &op); err != nil {
		return nil, err
	}
	var summary Summary
	if err := json.Unmarshal(row.SummaryJSON, &summary); err != nil {
		return nil, err
	}
	var status StatusPayload
	if len(row.StatusPayload) > 0 {
		if err := json.Unmarshal(row.StatusPayload, &status); err != nil {
			return nil, err
		}
	}
	return &Request{
		ApprovalID: row.ApprovalID,
		Operation:  op,
		Summary:    summary,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		Status:     row.Status,
		StatusData: status,
		JobID:      row.JobID,
	}, nil
}

// Create records a new Pending approval with the default TTL.
func (m *Manager) Create(ctx context.Context, op Operation, summary Summary) (*Request, error) {
	opJSON, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	row := &store.Approval{
		ApprovalID:    uuid.NewString(),
		OperationJSON: opJSON,
		SummaryJSON:   summaryJSON,
		CreatedAt:     now,
		ExpiresAt:     now.Add(DefaultTTL),
		Status:        store.ApprovalPending,
	}
	if err := m.store.CreateApproval(ctx, row); err != nil {
		return nil, err
	}
	m.log.Info("Created approval request", "approval_id", row.ApprovalID, "operation", op.Kind)
	return toRequest(row)
}

// Get fetches one approval.
func (m *Manager) Get(ctx context.Context, approvalID string) (*Request, error) {
	row, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return toRequest(row)
}

// Approve transitions Pending -> Approved and, on that transition (or on a
// retry of a prior Approve whose job creation failed), creates the Job the
// operation describes and binds it back onto the approval via
// approval.job_id, per spec §4.4: "on approve, the core creates the
// corresponding Job in the State Store bound via approval.job_id, and the
// Dispatcher picks it up normally." Idempotent like the rest of the gate:
// an approval that is already Approved with a Job bound is a no-op.
func (m *Manager) Approve(ctx context.Context, approvalID string) (bool, error) {
	now := time.Now().UnixMilli()
	payload, err := json.Marshal(StatusPayload{At: &now})
	if err != nil {
		return false, err
	}
	transitioned, err := m.store.TransitionApproval(ctx, approvalID, store.ApprovalApproved, payload)
	if err != nil {
		return false, err
	}
	if transitioned {
		m.log.Info("Approved request", "approval_id", approvalID)
	}

	// Re-fetch regardless of whether this call performed the transition:
	// a retried Approve on an approval that is already Approved but whose
	// job creation failed last time must still complete the binding.
	row, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return transitioned, err
	}
	if row.Status != store.ApprovalApproved || row.JobID != nil {
		return transitioned, nil
	}

	req, err := toRequest(row)
	if err != nil {
		return transitioned, err
	}
	in, err := jobInputForOperation(approvalID, req.Operation)
	if err != nil {
		return transitioned, err
	}
	job, err := m.store.EnqueueJob(ctx, in)
	if err != nil {
		m.log.Error("failed to enqueue job for approved operation", "approval_id", approvalID, "error", err)
		return transitioned, err
	}
	if err := m.BindJob(ctx, approvalID, job.ID); err != nil {
		m.log.Error("failed to bind job to approval", "approval_id", approvalID, "job_id", job.ID, "error", err)
		return transitioned, err
	}
	m.log.Info("created job for approved operation", "approval_id", approvalID, "job_id", job.ID)
	if m.waker != nil {
		m.waker.Wake()
	}
	return transitioned, nil
}

// jobInputForOperation maps an approved Operation onto the Job creation
// payload. Run and SchemaPromote operations carry no literal source bytes
// (the approval gate is plugin-registry/crawler-agnostic per spec's
// Non-goals), so plugin_ref doubles as the entrypoint and SourceHash is
// derived from the operation's own identifying fields via
// internal/hashutil, the same content-addressing primitive used elsewhere
// for artifact hashes.
func jobInputForOperation(approvalID string, op Operation) (store.EnqueueJobInput, error) {
	id := approvalID
	switch op.Kind {
	case OperationSchemaPromote:
		return store.EnqueueJobInput{
			FileID:      op.EphemeralID,
			FilePath:    op.EphemeralID,
			PluginName:  "schema_promote",
			Entrypoint:  "schema_promote",
			RuntimeKind: protocol.RuntimeNativeSubprocess,
			SourceHash:  hashutil.SumParts([]byte("SchemaPromote"), []byte(op.EphemeralID), []byte(op.OutputPath)),
			Sinks:       []protocol.SinkConfig{{OutputName: "schema", URI: op.OutputPath}},
			ApprovalID:  &id,
		}, nil
	default:
		return store.EnqueueJobInput{
			FileID:      op.InputDir,
			FilePath:    op.InputDir,
			PluginName:  op.PluginRef,
			Entrypoint:  op.PluginRef,
			RuntimeKind: protocol.RuntimeNativeSubprocess,
			SourceHash:  hashutil.SumParts([]byte(op.PluginRef), []byte(op.InputDir)),
			Sinks:       []protocol.SinkConfig{{OutputName: "default", URI: op.Output}},
			ApprovalID:  &id,
		}, nil
	}
}

// Reject transitions Pending -> Rejected, recording an optional reason.
// Idempotent like Approve.
func (m *Manager) Reject(ctx context.Context, approvalID string, reason *string) (bool, error) {
	now := time.Now().UnixMilli()
	payload, err := json.Marshal(StatusPayload{At: &now, Reason: reason})
	if err != nil {
		return false, err
	}
	ok, err := m.store.TransitionApproval(ctx, approvalID, store.ApprovalRejected, payload)
	if err != nil {
		return false, err
	}
	if ok {
		m.log.Info("Rejected request", "approval_id", approvalID)
	}
	return ok, nil
}

// BindJob attaches a newly created Job's id to an Approved approval. This
// is a separate step from Approve per spec §4.4: if job creation fails
// upstream, the approval stays Approved with job_id = null and the caller
// may retry this call.
func (m *Manager) BindJob(ctx context.Context, approvalID string, jobID uint64) error {
	return m.store.BindJobID(ctx, approvalID, jobID)
}

// List returns approvals, optionally filtered by status, newest first.
func (m *Manager) List(ctx context.Context, status string) ([]Request, error) {
	rows, err := m.store.ListApprovals(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(rows))
	for i := range rows {
		req, err := toRequest(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, nil
}

// ListPending is List(status=Pending).
func (m *Manager) ListPending(ctx context.Context) ([]Request, error) {
	return m.List(ctx, store.ApprovalPending)
}

// CheckExpired sweeps Pending approvals whose TTL has elapsed into
// Expired, per spec §3.4's "must transition to Expired on next scan"
// invariant. Returns the number expired.
func (m *Manager) CheckExpired(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Warn("Approvals expired", "count", n)
	}
	return n, nil
}

// CleanupOld deletes terminal approvals older than age (default
// DefaultCleanupAge), bounding unbounded table growth for a long-running
// Sentinel process.
func (m *Manager) CleanupOld(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultCleanupAge
	}
	return m.store.CleanupOld(ctx, age)
}

// RunExpirySweep blocks, running CheckExpired on the given interval until
// ctx is cancelled. Intended to run as one goroutine in the Sentinel's
// process, the way the Dispatcher's own ticks are a dedicated goroutine
// (spec §5).
func (m *Manager) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CheckExpired(ctx); err != nil {
				m.log.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/casparianflow/sentinel/internal/protocol"
)

// EnqueueJobInput is the creation payload for a new Job, mirroring
// DispatchCommand's static fields (spec §3.2, §4.1).
type EnqueueJobInput struct {
	FileID        string
	FilePath      string
	PluginName    string
	PluginVersion string
	Entrypoint    string
	RuntimeKind   protocol.RuntimeKind
	EnvHash       string
	SourceHash    string
	SchemaHashes  map[string]string
	Sinks         []protocol.SinkConfig
	Priority      int32
	ApprovalID    *string
}

// EnqueueJob creates a new QUEUED job. Called directly by collaborators for
// non-mutating operations, and by the Approval Gate on approve (spec §4.4).
func (s *Store) EnqueueJob(ctx context.Context, in EnqueueJobInput) (*Job, error) {
	schemaHashes, err := json.Marshal(in.SchemaHashes)
	if err != nil {
		return nil, err
	}
	sinks, err := json.Marshal(in.Sinks)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job := &Job{
		FileID:        in.FileID,
		FilePath:      in.FilePath,
		PluginName:    in.PluginName,
		PluginVersion: in.PluginVersion,
		Entrypoint:    in.Entrypoint,
		RuntimeKind:   string(in.RuntimeKind),
		EnvHash:       in.EnvHash,
		SourceHash:    in.SourceHash,
		SchemaHashes:  schemaHashes,
		Sinks:         sinks,
		Priority:      in.Priority,
		Status:        JobQueued,
		ApprovalID:    in.ApprovalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNextQueued executes the Claim transaction of spec §4.2: it selects
// one job matching status=QUEUED and plugin_name in capabilities (or a `*`
// wildcard), ordered by priority descending then id ascending, and updates
// it to CLAIMED with worker_host/worker_pid/claim_time set.
//
// Grounded on the teacher's JobRunRepo.ClaimNextRunnable, which runs the
// select-then-update inside one gorm.Transaction under
// clause.Locking{SKIP LOCKED}. SQLite has no row-level locking or SKIP
// LOCKED, so this adapts that shape to SQLite's single-writer model
// instead: db.go opens sqlite with SetMaxOpenConns(1), which serializes
// every transaction — including this select-then-update — onto the one
// pooled connection, making the whole read-then-write atomic against
// concurrent dispatcher goroutines without needing row locks.
func (s *Store) ClaimNextQueued(ctx context.Context, capabilities []string, workerHost string, workerPID int) (*Job, error) {
	wildcard := false
	for _, c := range capabilities {
		if c == "*" {
			wildcard = true
			break
		}
	}

	var claimed *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", JobQueued)
		if !wildcard {
			q = q.Where("plugin_name IN ?", capabilities)
		}
		var job Job
		qErr := q.Order("priority DESC, id ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		now := time.Now()
		host := workerHost
		pid := workerPID
		uErr := tx.Model(&Job{}).
			Where("id = ? AND status = ?", job.ID, JobQueued).
			Updates(map[string]interface{}{
				"status":      JobClaimed,
				"worker_host": host,
				"worker_pid":  pid,
				"claim_time":  now,
				"updated_at":  now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = JobClaimed
		job.WorkerHost = &host
		job.WorkerPID = &pid
		job.ClaimTime = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkRunning transitions CLAIMED -> RUNNING on first heartbeat for a job,
// per spec §4.2's dispatch rule.
func (s *Store) MarkRunning(ctx context.Context, jobID uint64) error {
	return s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", jobID, JobClaimed).
		Updates(map[string]interface{}{"status": JobRunning, "updated_at": time.Now()}).Error
}

// ConcludeInput carries a worker's CONCLUDE receipt fields.
type ConcludeInput struct {
	Success        bool
	ErrorMessage   string
	ResultMetrics  map[string]int64
	QuarantineRows int64
	Retryable      bool
	MaxRetries     int
}

// Conclude applies a CONCLUDE receipt per spec §4.2. On success, RUNNING ->
// COMPLETED. On failure, RUNNING -> FAILED, and if the failure is retryable
// and retry_count < max_retries, re-enqueues with retry_count += 1
// (FAILED -> QUEUED). A CONCLUDE for a job already ABORTED is recorded as
// metrics-only and does not change status, per the out-of-order receipt
// rule in spec §4.1.
func (s *Store) Conclude(ctx context.Context, jobID uint64, in ConcludeInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		if job.Status == JobAborted {
			metrics, err := json.Marshal(in.ResultMetrics)
			if err != nil {
				return err
			}
			return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"result_metrics_json": metrics,
				"quarantine_rows":     in.QuarantineRows,
				"updated_at":          time.Now(),
			}).Error
		}

		now := time.Now()
		if in.Success {
			metrics, err := json.Marshal(in.ResultMetrics)
			if err != nil {
				return err
			}
			return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"status":              JobCompleted,
				"end_time":            now,
				"result_metrics_json": metrics,
				"quarantine_rows":     in.QuarantineRows,
				"updated_at":          now,
			}).Error
		}

		updates := map[string]interface{}{
			"status":        JobFailed,
			"end_time":      now,
			"error_message": in.ErrorMessage,
			"updated_at":    now,
		}
		if err := tx.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		if in.Retryable && job.RetryCount < in.MaxRetries {
			return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"status":      JobQueued,
				"retry_count": job.RetryCount + 1,
				"worker_host": nil,
				"worker_pid":  nil,
				"claim_time":  nil,
				"end_time":    nil,
				"updated_at":  now,
			}).Error
		}
		return nil
	})
}

// Cancel applies spec §4.2's cancel rule: QUEUED jobs go directly to
// ABORTED; CLAIMED/RUNNING jobs are marked ABORTED here (the caller is
// responsible for sending ABORT to the owning worker; see
// internal/sentinel). Returns the job's status prior to cancellation so
// the caller knows whether a worker needs signaling.
func (s *Store) Cancel(ctx context.Context, jobID uint64) (priorStatus string, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if e := tx.Where("id = ?", jobID).First(&job).Error; e != nil {
			return e
		}
		priorStatus = job.Status
		if job.Status == JobCompleted || job.Status == JobFailed || job.Status == JobAborted {
			return nil
		}
		now := time.Now()
		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"status":     JobAborted,
			"end_time":   now,
			"updated_at": now,
		}).Error
	})
	return priorStatus, err
}

// ReclaimStale moves CLAIMED/RUNNING jobs owned by a worker whose
// heartbeat deadline has elapsed back to QUEUED, per spec §4.2's stale
// reclamation side-transition.
func (s *Store) ReclaimStale(ctx context.Context, workerHost string) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("worker_host = ? AND status IN ?", workerHost, []string{JobClaimed, JobRunning}).
		Updates(map[string]interface{}{
			"status":      JobQueued,
			"worker_host": nil,
			"worker_pid":  nil,
			"claim_time":  nil,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID uint64) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobsFilter narrows ListJobs by optional status, with limit/offset
// pagination per spec §6.2's list_jobs(status?, limit?, offset?).
type ListJobsFilter struct {
	Status string
	Limit  int
	Offset int
}

// ListJobs returns jobs ordered by id descending (most recent first),
// optionally filtered by status and paginated.
func (s *Store) ListJobs(ctx context.Context, f ListJobsFilter) ([]Job, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// QueueStats is the aggregate view backing the queue_stats control op.
type QueueStats struct {
	Queued    int64 `json:"queued"`
	Claimed   int64 `json:"claimed"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
}

// QueueStats counts jobs per status in a single read snapshot.
func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	counts := map[string]*int64{
		JobQueued:    &stats.Queued,
		JobClaimed:   &stats.Claimed,
		JobRunning:   &stats.Running,
		JobCompleted: &stats.Completed,
		JobFailed:    &stats.Failed,
		JobAborted:   &stats.Aborted,
	}
	for status, dst := range counts {
		var n int64
		if err := s.db.WithContext(ctx).Model(&Job{}).Where("status = ?", status).Count(&n).Error; err != nil {
			return stats, err
		}
		*dst = n
	}
	return stats, nil
}

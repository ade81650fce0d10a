package controlapi

import (
	"time"

	"github.com/casparianflow/sentinel/internal/approval"
	"github.com/casparianflow/sentinel/internal/store"
)

// EnqueueJobRequest is the body of enqueue_job(spec), spec §6.2.
type EnqueueJobRequest struct {
	FileID        string            `json:"file_id" binding:"required"`
	FilePath      string            `json:"file_path" binding:"required"`
	PluginName    string            `json:"plugin_name" binding:"required"`
	PluginVersion string            `json:"plugin_version"`
	Entrypoint    string            `json:"entrypoint" binding:"required"`
	RuntimeKind   string            `json:"runtime_kind" binding:"required"`
	EnvHash       string            `json:"env_hash"`
	SourceHash    string            `json:"source_hash"`
	SchemaHashes  map[string]string `json:"schema_hashes"`
	Sinks         []SinkSpec        `json:"sinks"`
	Priority      int32             `json:"priority"`
	ApprovalID    *string           `json:"approval_id"`
}

// SinkSpec mirrors protocol.SinkConfig's wire shape for the Control API.
type SinkSpec struct {
	OutputName string `json:"output_name"`
	URI        string `json:"uri"`
}

// JobInfo is the Control API's read projection of a store.Job, named
// "JobInfo" per spec §6.2's response table.
type JobInfo struct {
	ID             uint64            `json:"job_id"`
	FileID         string            `json:"file_id"`
	FilePath       string            `json:"file_path"`
	PluginName     string            `json:"plugin_name"`
	PluginVersion  string            `json:"plugin_version"`
	RuntimeKind    string            `json:"runtime_kind"`
	Priority       int32             `json:"priority"`
	RetryCount     int               `json:"retry_count"`
	Status         string            `json:"status"`
	WorkerHost     *string           `json:"worker_host,omitempty"`
	ClaimTime      *time.Time        `json:"claim_time,omitempty"`
	EndTime        *time.Time        `json:"end_time,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	QuarantineRows int64             `json:"quarantine_rows"`
	ApprovalID     *string           `json:"approval_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toJobInfo(j store.Job) JobInfo {
	return JobInfo{
		ID:             j.ID,
		FileID:         j.FileID,
		FilePath:       j.FilePath,
		PluginName:     j.PluginName,
		PluginVersion:  j.PluginVersion,
		RuntimeKind:    j.RuntimeKind,
		Priority:       j.Priority,
		RetryCount:     j.RetryCount,
		Status:         j.Status,
		WorkerHost:     j.WorkerHost,
		ClaimTime:      j.ClaimTime,
		EndTime:        j.EndTime,
		ErrorMessage:   j.ErrorMessage,
		QuarantineRows: j.QuarantineRows,
		ApprovalID:     j.ApprovalID,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// ApprovalInfo is the Control API's read projection of an approval.Request.
type ApprovalInfo struct {
	ApprovalID string             `json:"approval_id"`
	Operation  approval.Operation `json:"operation"`
	Summary    approval.Summary   `json:"summary"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Status     string             `json:"status"`
	JobID      *uint64            `json:"job_id,omitempty"`
}

func toApprovalInfo(r approval.Request) ApprovalInfo {
	return ApprovalInfo{
		ApprovalID: r.ApprovalID,
		Operation:  r.Operation,
		Summary:    r.Summary,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		Status:     r.Status,
		JobID:      r.JobID,
	}
}

// CreateApprovalRequest is the body of create_approval(operation, summary,
// ttl), spec §6.2.
type CreateApprovalRequest struct {
	Operation approval.Operation `json:"operation" binding:"required"`
	Summary   approval.Summary   `json:"summary" binding:"required"`
	TTLSecs   int64              `json:"ttl_secs"`
}

// RejectRequest is the optional body of reject(approval_id, reason?).
type RejectRequest struct {
	Reason *string `json:"reason"`
}

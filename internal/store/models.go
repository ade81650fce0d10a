// Package store is the State Store: durable tables for jobs, workers,
// approvals, and sessions, with the atomic multi-row updates the Claim
// transaction needs under contention from multiple dispatcher goroutines.
package store

import (
	"time"

	"gorm.io/datatypes"
)

// Job status values, per spec §4.2's state machine.
const (
	JobQueued    = "QUEUED"
	JobClaimed   = "CLAIMED"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
	JobAborted   = "ABORTED"
)

// Job is the persisted row backing spec §3.2. schema_hashes, sinks, and
// result_metrics are stored as JSON columns, the way the teacher's
// domain/jobs.JobRun stores Payload/Result as datatypes.JSON.
type Job struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID         string         `gorm:"column:file_id;index;not null" json:"file_id"`
	FilePath       string         `gorm:"column:file_path;not null" json:"file_path"`
	PluginName     string         `gorm:"column:plugin_name;index;not null" json:"plugin_name"`
	PluginVersion  string         `gorm:"column:plugin_version" json:"plugin_version,omitempty"`
	Entrypoint     string         `gorm:"column:entrypoint;not null" json:"entrypoint"`
	RuntimeKind    string         `gorm:"column:runtime_kind;not null" json:"runtime_kind"`
	EnvHash        string         `gorm:"column:env_hash" json:"env_hash,omitempty"`
	SourceHash     string         `gorm:"column:source_hash;not null" json:"source_hash"`
	SchemaHashes   datatypes.JSON `gorm:"column:schema_hashes_json" json:"schema_hashes"`
	Sinks          datatypes.JSON `gorm:"column:sinks_json" json:"sinks"`
	Priority       int32          `gorm:"column:priority;index;not null;default:0" json:"priority"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Status         string         `gorm:"column:status;index:idx_jobs_claim,priority:1;not null" json:"status"`
	WorkerHost     *string        `gorm:"column:worker_host" json:"worker_host,omitempty"`
	WorkerPID      *int           `gorm:"column:worker_pid" json:"worker_pid,omitempty"`
	ClaimTime      *time.Time     `gorm:"column:claim_time" json:"claim_time,omitempty"`
	EndTime        *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	ErrorMessage   string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ResultMetrics  datatypes.JSON `gorm:"column:result_metrics_json" json:"result_metrics,omitempty"`
	QuarantineRows int64          `gorm:"column:quarantine_rows;not null;default:0" json:"quarantine_rows"`
	ApprovalID     *string        `gorm:"column:approval_id;index" json:"approval_id,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// Approval status values, per spec §3.4.
const (
	ApprovalPending  = "Pending"
	ApprovalApproved = "Approved"
	ApprovalRejected = "Rejected"
	ApprovalExpired  = "Expired"
)

// Approval is the persisted row backing spec §3.4 / §4.4. ApprovalID is a
// UUID string (google/uuid, generated at creation).
type Approval struct {
	ApprovalID     string         `gorm:"column:approval_id;primaryKey" json:"approval_id"`
	OperationJSON  datatypes.JSON `gorm:"column:operation_json;not null" json:"operation"`
	SummaryJSON    datatypes.JSON `gorm:"column:summary_json;not null" json:"summary"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;index;not null" json:"expires_at"`
	Status         string         `gorm:"column:status;index;not null" json:"status"`
	StatusPayload  datatypes.JSON `gorm:"column:status_payload_json" json:"status_payload,omitempty"`
	JobID          *uint64        `gorm:"column:job_id" json:"job_id,omitempty"`
}

func (Approval) TableName() string { return "approvals" }

// Session is the opaque collaborator-advanced row backing spec §3.5.
type Session struct {
	SessionID string         `gorm:"column:session_id;primaryKey" json:"session_id"`
	State     string         `gorm:"column:state;not null" json:"state"`
	Payload   datatypes.JSON `gorm:"column:payload_json" json:"payload,omitempty"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Worker lifecycle status values, per spec §3.3.
const (
	WorkerIdle     = "IDLE"
	WorkerBusy     = "BUSY"
	WorkerDraining = "DRAINING"
)

// WorkerNode is the persisted mirror of an ephemeral worker record. The
// Sentinel's in-memory worker table (internal/sentinel) is authoritative
// for live connection state; this row exists for crash-visibility and
// operator inspection per spec §4.5, and is deleted on clean disconnect.
type WorkerNode struct {
	WorkerID           string         `gorm:"column:worker_id;primaryKey" json:"worker_id"`
	TransportIdentity  string         `gorm:"column:transport_identity;not null" json:"transport_identity"`
	Capabilities       datatypes.JSON `gorm:"column:capabilities_json" json:"capabilities"`
	LastHeartbeat      time.Time      `gorm:"column:last_heartbeat;index;not null" json:"last_heartbeat"`
	CurrentJobID       *uint64        `gorm:"column:current_job_id" json:"current_job_id,omitempty"`
	Status             string         `gorm:"column:status;not null" json:"status"`
}

func (WorkerNode) TableName() string { return "worker_nodes" }

// CurrentSchemaVersion is the monotone integer version this build expects,
// per spec §6.4's schema-versioning requirement. Bump it whenever a
// released version adds a migration Open must refuse to skip backwards
// past.
const CurrentSchemaVersion = 1

// SchemaVersion is a single-row table recording the State Store's schema
// version, the way the teacher's internal/data/db package versions its
// Postgres schema through a dedicated migration path rather than trusting
// AutoMigrate alone.
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Version int  `gorm:"column:version;not null" json:"version"`
}

func (SchemaVersion) TableName() string { return "_schema_version" }

package controlapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/store"
)

// JobCanceler is the subset of *sentinel.Dispatcher the Control API needs
// for cancel_job: applying the State Store transition and, if the job is
// CLAIMED/RUNNING, signaling the owning worker over the wire. Declared here
// rather than imported so controlapi doesn't take a hard dependency on
// internal/sentinel's transport plumbing.
type JobCanceler interface {
	Cancel(ctx context.Context, jobID uint64) error
}

// JobsHandler serves the job-queue half of the Control API (spec §6.2),
// grounded on the teacher's internal/handlers/jobs.go (JobsHandler{service}
// / per-route method / RespondError-RespondOK).
type JobsHandler struct {
	store  *store.Store
	cancel JobCanceler
	log    *logger.Logger
}

// NewJobsHandler builds a JobsHandler.
func NewJobsHandler(s *store.Store, cancel JobCanceler, appLog *logger.Logger) *JobsHandler {
	return &JobsHandler{store: s, cancel: cancel, log: appLog.With("component", "JobsHandler")}
}

// EnqueueJob handles POST /api/jobs.
func (h *JobsHandler) EnqueueJob(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	sinks := make([]protocol.SinkConfig, 0, len(req.Sinks))
	for _, s := range req.Sinks {
		sinks = append(sinks, protocol.SinkConfig{OutputName: s.OutputName, URI: s.URI})
	}

	job, err := h.store.EnqueueJob(c.Request.Context(), store.EnqueueJobInput{
		FileID:        req.FileID,
		FilePath:      req.FilePath,
		PluginName:    req.PluginName,
		PluginVersion: req.PluginVersion,
		Entrypoint:    req.Entrypoint,
		RuntimeKind:   protocol.RuntimeKind(req.RuntimeKind),
		EnvHash:       req.EnvHash,
		SourceHash:    req.SourceHash,
		SchemaHashes:  req.SchemaHashes,
		Sinks:         sinks,
		Priority:      req.Priority,
		ApprovalID:    req.ApprovalID,
	})
	if err != nil {
		h.log.Error("enqueue_job failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"job_id": job.ID})
}

// CancelJob handles POST /api/jobs/:id/cancel.
func (h *JobsHandler) CancelJob(c *gin.Context) {
	jobID, err := parseJobID(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.cancel.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("cancel_job failed", "job_id", jobID, "error", err)
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"ok": true, "message": "cancellation requested"})
}

// ListJobs handles GET /api/jobs.
func (h *JobsHandler) ListJobs(c *gin.Context) {
	filter := store.ListJobsFilter{Status: c.Query("status")}
	if lim, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = lim
	}
	if off, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = off
	}
	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobInfo(j))
	}
	RespondOK(c, out)
}

// GetJob handles GET /api/jobs/:id.
func (h *JobsHandler) GetJob(c *gin.Context) {
	jobID, err := parseJobID(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondOK(c, nil)
			return
		}
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	info := toJobInfo(*job)
	RespondOK(c, info)
}

// QueueStats handles GET /api/queue/stats.
func (h *JobsHandler) QueueStats(c *gin.Context) {
	stats, err := h.store.QueueStats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	total := stats.Queued + stats.Claimed + stats.Running + stats.Completed + stats.Failed + stats.Aborted
	RespondOK(c, gin.H{
		"queued":    stats.Queued,
		"running":   stats.Claimed + stats.Running,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"aborted":   stats.Aborted,
		"total":     total,
	})
}

func parseJobID(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

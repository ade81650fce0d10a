package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/session"
)

// AdvanceSessionRequest is the body of POST /api/sessions/:id/advance,
// grounded on original_source's control.rs::Command::AdvanceSession but
// generalized to spec §3.5's "declared state set belongs to the
// collaborator" rule: callers name the target state and, if it binds an
// approval or job, supply that id explicitly.
type AdvanceSessionRequest struct {
	State         string          `json:"state" binding:"required"`
	ApprovalID    string          `json:"approval_id"`
	JobID         uint64          `json:"job_id"`
	NeedsApproval bool            `json:"needs_approval"`
	NeedsJob      bool            `json:"needs_job"`
	Extra         json.RawMessage `json:"extra"`
}

// SessionInfo mirrors internal/session.Payload plus the session's id and
// current state, for the wire response.
type SessionInfo struct {
	SessionID  string          `json:"session_id"`
	State      string          `json:"state"`
	ApprovalID *string         `json:"approval_id,omitempty"`
	JobID      *uint64         `json:"job_id,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

type SessionsHandler struct {
	sessions *session.Manager
	log      *logger.Logger
}

func NewSessionsHandler(m *session.Manager, appLog *logger.Logger) *SessionsHandler {
	return &SessionsHandler{sessions: m, log: appLog.With("component", "SessionsHandler")}
}

func (h *SessionsHandler) Advance(c *gin.Context) {
	sessionID := c.Param("id")
	var req AdvanceSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	err := h.sessions.Advance(c.Request.Context(), sessionID, req.State, session.AdvanceOptions{
		RequiresApprovalID: req.NeedsApproval,
		ApprovalID:         req.ApprovalID,
		RequiresJobID:      req.NeedsJob,
		JobID:              req.JobID,
		Extra:              req.Extra,
	})
	if errors.Is(err, session.ErrMissingApprovalID) || errors.Is(err, session.ErrMissingJobID) {
		RespondError(c, http.StatusBadRequest, "missing_bound_id", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}

func (h *SessionsHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")
	state, payload, err := h.sessions.Get(c.Request.Context(), sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondOK(c, nil)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, SessionInfo{
		SessionID:  sessionID,
		State:      state,
		ApprovalID: payload.ApprovalID,
		JobID:      payload.JobID,
		Extra:      payload.Extra,
	})
}

package controlapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/casparianflow/sentinel/internal/approval"
	"github.com/casparianflow/sentinel/internal/logger"
)

// ApprovalsHandler serves the Approval Gate half of the Control API (spec
// §4.4, §6.2).
type ApprovalsHandler struct {
	approvals *approval.Manager
	log       *logger.Logger
}

// NewApprovalsHandler builds an ApprovalsHandler.
func NewApprovalsHandler(m *approval.Manager, appLog *logger.Logger) *ApprovalsHandler {
	return &ApprovalsHandler{approvals: m, log: appLog.With("component", "ApprovalsHandler")}
}

// Create handles POST /api/approvals: create_approval(operation, summary, ttl).
func (h *ApprovalsHandler) Create(c *gin.Context) {
	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	// req.TTLSecs is accepted for wire compatibility with spec §6.2's
	// create_approval(operation, summary, ttl) signature; Manager.Create
	// always applies approval.DefaultTTL (spec §3.4) rather than an
	// arbitrary caller-supplied window.
	request, err := h.approvals.Create(c.Request.Context(), req.Operation, req.Summary)
	if err != nil {
		h.log.Error("create_approval failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"approval_id": request.ApprovalID})
}

// Get handles GET /api/approvals/:id.
func (h *ApprovalsHandler) Get(c *gin.Context) {
	request, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondOK(c, nil)
			return
		}
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, toApprovalInfo(*request))
}

// Approve handles POST /api/approvals/:id/approve.
func (h *ApprovalsHandler) Approve(c *gin.Context) {
	ok, err := h.approvals.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"ok": ok})
}

// Reject handles POST /api/approvals/:id/reject.
func (h *ApprovalsHandler) Reject(c *gin.Context) {
	var req RejectRequest
	// Body is optional; an empty body is not a bind error.
	_ = c.ShouldBindJSON(&req)

	ok, err := h.approvals.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"ok": ok})
}

// List handles GET /api/approvals.
func (h *ApprovalsHandler) List(c *gin.Context) {
	requests, err := h.approvals.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	out := make([]ApprovalInfo, 0, len(requests))
	for _, r := range requests {
		out = append(out, toApprovalInfo(r))
	}
	RespondOK(c, out)
}

// Expire handles POST /api/approvals/expire: a manual trigger of the
// background sweep (approval.Manager.RunExpirySweep) for operators and
// tests that don't want to wait on the ticker.
func (h *ApprovalsHandler) Expire(c *gin.Context) {
	n, err := h.approvals.CheckExpired(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, gin.H{"expired_count": n})
}

// Package controlapi implements the Control API of spec §6.2: a gin HTTP
// surface collaborators (CLI, UI) use to enqueue/cancel/list jobs, drive
// the approval gate, and check queue/worker health. Grounded on the
// teacher's internal/handlers + internal/server/router.go layering.
package controlapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the error body shape, copied from the teacher's
// internal/handlers/response.go verbatim since it already matches the
// ambient-stack convention this spec wants.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError the way every non-2xx Control API response
// does.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes a JSON error envelope with the given status/code.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// RespondOK writes payload as a 200 JSON response.
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

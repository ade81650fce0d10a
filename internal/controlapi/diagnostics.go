package controlapi

import (
	"github.com/gin-gonic/gin"

	"github.com/casparianflow/sentinel/internal/telemetry"
)

// Ping handles GET /api/ping, a liveness probe distinct from the wire
// protocol's IDENTIFY/HEARTBEAT exchange (spec §6.2's "diagnostic" note).
// It echoes the process-wide jobs-concluded counter (spec §9) so operators
// have something to look at beyond a bare 200.
func Ping(c *gin.Context) {
	RespondOK(c, gin.H{"ok": true, "jobs_concluded": telemetry.JobsConcludedCount()})
}

// RegisterWorker handles POST /api/workers/register. It is a diagnostic
// echo only: the authoritative registration path is the wire protocol's
// IDENTIFY frame into internal/sentinel's WorkerTable, not this HTTP
// surface (spec §6.2 marks both register_worker and ping "diagnostic").
func RegisterWorker(c *gin.Context) {
	RespondOK(c, gin.H{"ok": true})
}

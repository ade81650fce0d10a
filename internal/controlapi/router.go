package controlapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/casparianflow/sentinel/internal/approval"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/session"
	"github.com/casparianflow/sentinel/internal/store"
)

// RouterConfig wires a gin.Engine to the Sentinel's storage and dispatch
// collaborators. There is no AuthMiddleware group here: spec §1's
// Non-goals exclude multi-tenant authz from this core.
type RouterConfig struct {
	Store     *store.Store
	Approvals *approval.Manager
	Sessions  *session.Manager
	Canceler  JobCanceler
}

// NewRouter builds the Control API's gin.Engine, grounded on the teacher's
// internal/server/router.go (gin.Default(), CORS, grouped routes),
// generalized to this spec's job/approval surface instead of
// auth/course/lesson handlers.
func NewRouter(cfg RouterConfig, appLog *logger.Logger) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("casparian-control-api"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", func(c *gin.Context) { c.String(200, "ok") })

	jobs := NewJobsHandler(cfg.Store, cfg.Canceler, appLog)
	approvals := NewApprovalsHandler(cfg.Approvals, appLog)
	sessions := NewSessionsHandler(cfg.Sessions, appLog)

	api := router.Group("/api")
	{
		api.GET("/ping", Ping)
		api.POST("/workers/register", RegisterWorker)

		api.POST("/jobs", jobs.EnqueueJob)
		api.GET("/jobs", jobs.ListJobs)
		api.GET("/jobs/:id", jobs.GetJob)
		api.POST("/jobs/:id/cancel", jobs.CancelJob)
		api.GET("/queue/stats", jobs.QueueStats)

		api.POST("/approvals", approvals.Create)
		api.GET("/approvals", approvals.List)
		api.GET("/approvals/:id", approvals.Get)
		api.POST("/approvals/:id/approve", approvals.Approve)
		api.POST("/approvals/:id/reject", approvals.Reject)
		api.POST("/approvals/expire", approvals.Expire)

		api.GET("/sessions/:id", sessions.Get)
		api.POST("/sessions/:id/advance", sessions.Advance)
	}

	return router
}

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskhive/internal/handler"
	"taskhive/pkg/otel"
	"taskhive/pkg/rbac"
	"taskhive/pkg/trace"
)

// Pinger 就绪检查使用，repository.Store 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Auth    *handler.AuthHandler
	Project *handler.ProjectHandler
	Task    *handler.TaskHandler
	Admin   *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

type options struct {
	allowOrigins []string
}

type Option func(*options)

// WithCORS 允许浏览器从这些来源调用 API；为空时不启用 CORS
func WithCORS(origins []string) Option {
	return func(o *options) { o.allowOrigins = origins }
}

func NewRouter(h Handlers, jwtSecret string, store Pinger, logger *zap.Logger, opts ...Option) *Router {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), AccessLog(logger))
	if len(o.allowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     o.allowOrigins,
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", trace.HeaderName()},
			ExposeHeaders:    []string{trace.HeaderName()},
			MaxAge:           12 * time.Hour,
		}))
	}

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", h.Auth.Register)
	r.POST("/login", h.Auth.Login)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))

	projects := auth.Group("/projects")
	{
		projects.POST("", RequirePermission(rbac.PermissionCreateProject), h.Project.Create)
		projects.GET("", h.Project.List)
		projects.GET("/stats", h.Project.Stats)
		projects.GET("/overdue", h.Project.Overdue)
		projects.GET("/:id", h.Project.Get)
		projects.PATCH("/:id", RequirePermission(rbac.PermissionUpdateProject), h.Project.Update)
		projects.DELETE("/:id", RequirePermission(rbac.PermissionDeleteProject), h.Project.Delete)
		projects.GET("/:id/delete-plan", h.Project.DeletePlan)
		projects.POST("/:id/archive", RequirePermission(rbac.PermissionUpdateProject), h.Project.Archive)
		projects.POST("/:id/unarchive", RequirePermission(rbac.PermissionUpdateProject), h.Project.Unarchive)
		projects.PUT("/:id/progress", RequirePermission(rbac.PermissionUpdateProject), h.Project.UpdateProgress)
		projects.POST("/:id/status", RequirePermission(rbac.PermissionUpdateProject), h.Project.ChangeStatus)
		projects.GET("/:id/changelogs", h.Project.ChangeLogs)
		projects.POST("/:id/tasks", RequirePermission(rbac.PermissionCreateTask), h.Task.Create)
		projects.GET("/:id/tasks", h.Task.ListByProject)
		projects.GET("/:id/tasks/stats", h.Task.ProjectStats)
	}

	tasks := auth.Group("/tasks")
	{
		tasks.GET("", h.Task.List)
		tasks.GET("/overdue", h.Task.Overdue)
		tasks.GET("/:id", h.Task.Get)
		tasks.PATCH("/:id", RequirePermission(rbac.PermissionUpdateTask), h.Task.Update)
		tasks.DELETE("/:id", RequirePermission(rbac.PermissionDeleteTask), h.Task.Delete)
		tasks.POST("/:id/status", RequirePermission(rbac.PermissionUpdateTask), h.Task.ChangeStatus)
		tasks.POST("/:id/assign", RequirePermission(rbac.PermissionUpdateTask), h.Task.Assign)
		tasks.DELETE("/:id/assignee", RequirePermission(rbac.PermissionUpdateTask), h.Task.Unassign)
		tasks.POST("/:id/move", RequirePermission(rbac.PermissionUpdateTask), h.Task.Move)
		tasks.GET("/:id/changelogs", h.Task.ChangeLogs)
	}

	admin := auth.Group("/admin")
	admin.Use(RequirePermission(rbac.PermissionReplayOutbox))
	{
		admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

// Server 包装 http.Server 以支持优雅关闭
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

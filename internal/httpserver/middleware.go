package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhive/internal/handler"
	"taskhive/pkg/logger"
	"taskhive/pkg/metrics"
	"taskhive/pkg/rbac"
	"taskhive/pkg/trace"
	"taskhive/pkg/util"
)

// AuthMiddleware 解析 Bearer token，把 rbac.Principal 写入 gin context
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		principal, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.PrincipalKey, principal)
		c.Next()
	}
}

// RequirePermission 中间件：要求用户具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(handler.PrincipalKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		principal, ok := v.(rbac.Principal)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid principal"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(principal, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "permission": permission})
			c.Abort()
			return
		}

		c.Next()
	}
}

// TraceMiddleware 读取或生成 X-Trace-ID，写入 request context 与响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, traceID := trace.Ensure(c.Request.Context(), c.GetHeader(trace.HeaderName()))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// AccessLog 记录请求耗时与状态码，并上报 HTTP 延迟指标
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), duration)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		}
		l := logger.WithTrace(c.Request.Context(), log)
		switch {
		case status >= 500:
			l.Error("HTTP request", fields...)
		case status >= 400:
			l.Warn("HTTP request", fields...)
		default:
			l.Debug("HTTP request", fields...)
		}
	}
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskhive/pkg/apperror"
	"taskhive/pkg/logger"
	"taskhive/pkg/rbac"
)

// PrincipalKey gin context 中保存 rbac.Principal 的键，由认证中间件写入
const PrincipalKey = "principal"

// getPrincipal 统一读取当前用户；未认证时直接写 401
func getPrincipal(c *gin.Context) (rbac.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return rbac.Principal{}, false
	}
	p, ok := v.(rbac.Principal)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid principal"})
		return rbac.Principal{}, false
	}
	return p, true
}

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// queryInt 可选的整数查询参数；格式错误时写 400
func queryInt(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &n, true
}

func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &b, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return false
	}
	return true
}

// respondError 按错误类型映射状态码；500 只返回通用信息
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var v *apperror.ValidationError
	if errors.As(err, &v) && v.Field != "" {
		body["field"] = v.Field
	}
	c.JSON(status, body)
}

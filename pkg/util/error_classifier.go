package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"taskhive/pkg/apperror"
)

// IsRetryableError 判断消息处理失败是否值得重新投递
// 返回 (是否可重试, 错误类型)，错误类型用于日志与指标
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 数据格式错误不可重试
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	switch {
	case apperror.IsNotFound(err):
		// 项目已被删除，重试没有意义
		return false, "not_found"
	case apperror.IsValidation(err):
		return false, "validation_error"
	case apperror.IsForbidden(err):
		return false, "forbidden"
	case apperror.IsConflict(err):
		return false, "conflict"
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return false, "duplicate_key"
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			// serialization_failure / deadlock_detected
			return true, "tx_conflict"
		case strings.HasPrefix(pgErr.Code, "08"):
			return true, "db_connection_error"
		}
		return false, "db_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if apperror.IsTransaction(err) {
		return true, "transaction_error"
	}

	if strings.Contains(err.Error(), "connection") {
		return true, "connection_error"
	}

	// 未知错误保守处理，不重试
	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}

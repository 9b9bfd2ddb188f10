package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError 字段值不合法（调用方错误，不重试）
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError 引用的实体不存在
type NotFoundError struct {
	Entity string
	ID     int
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ForbiddenError 已认证但无权操作
type ForbiddenError struct {
	UserID int
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %d is not allowed to %s", e.UserID, e.Action)
}

// ConflictError 唯一键冲突（例如注册时邮箱重复）
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// TransactionError 事务执行中出现的非业务错误，回滚后返回
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Validation 构造 ValidationError
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidEnum 构造枚举值不合法的 ValidationError，列出允许的值
func InvalidEnum(field, value string, allowed []string) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid value %q, allowed values: %s", value, strings.Join(allowed, ", ")),
	}
}

// NotFound 构造 NotFoundError
func NotFound(entity string, id int) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Forbidden 构造 ForbiddenError
func Forbidden(userID int, action string) error {
	return &ForbiddenError{UserID: userID, Action: action}
}

// Conflict 构造 ConflictError
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// WrapTx 事务失败时的错误处理：业务错误原样返回，其余包装为 TransactionError
func WrapTx(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

// IsDomain 判断是否为业务错误（Validation/NotFound/Forbidden/Conflict）
func IsDomain(err error) bool {
	var (
		v *ValidationError
		n *NotFoundError
		f *ForbiddenError
		c *ConflictError
	)
	return errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &f) || errors.As(err, &c)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsForbidden(err error) bool {
	var f *ForbiddenError
	return errors.As(err, &f)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsTransaction(err error) bool {
	var t *TransactionError
	return errors.As(err, &t)
}

// HTTPStatus 将错误映射为 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsForbidden(err):
		return http.StatusForbidden
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

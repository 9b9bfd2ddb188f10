// Package validation holds the pure field checks, the task status transition
// table and the ownership policy used by the management services.
package validation

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"taskhive/internal/model"
	"taskhive/pkg/apperror"
)

const (
	ProjectNameMax        = 200
	ProjectDescriptionMax = 2000
	TaskNameMax           = 200
	TaskContentsMax       = 5000
	AssigneeMax           = 100
)

// 允许的日期格式，按顺序尝试
var dueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
}

// ValidateName 名称不能为空白，去掉首尾空白后长度不能超过 max
func ValidateName(field, name string, max int) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", apperror.Validation(field, "must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", apperror.Validation(field, "must be at most %d characters", max)
	}
	return trimmed, nil
}

// ValidateText 可选文本字段，仅校验长度
func ValidateText(field, text string, max int) (string, error) {
	if utf8.RuneCountInString(text) > max {
		return "", apperror.Validation(field, "must be at most %d characters", max)
	}
	return text, nil
}

// ValidateEnum 校验枚举成员，失败时列出允许值
func ValidateEnum[T ~string](field, value string, allowed []T) (T, error) {
	for _, a := range allowed {
		if string(a) == value {
			return a, nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	var zero T
	return zero, apperror.InvalidEnum(field, value, names)
}

// ValidateProjectPriority Low / Medium / High
func ValidateProjectPriority(value string) (model.Priority, error) {
	return ValidateEnum("priority", value, model.ProjectPriorities)
}

// ValidateTaskPriority Low / Medium / High / Critical
func ValidateTaskPriority(value string) (model.Priority, error) {
	return ValidateEnum("priority", value, model.TaskPriorities)
}

// ValidateProjectStatus 项目状态
func ValidateProjectStatus(value string) (model.ProjectStatus, error) {
	return ValidateEnum("status", value, model.ProjectStatuses)
}

// ValidateTaskStatus 任务状态，Done 视为 Completed
func ValidateTaskStatus(value string) (model.TaskStatus, error) {
	if strings.EqualFold(value, model.TaskStatusDoneAlias) {
		return model.TaskCompleted, nil
	}
	return ValidateEnum("status", value, model.TaskStatuses)
}

// ParseDueDate 解析日期，无法解析时返回 ValidationError
func ParseDueDate(input string) (time.Time, error) {
	s := strings.TrimSpace(input)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperror.Validation("due_date", "invalid date %q, expected YYYY-MM-DD or RFC 3339", input)
}

// ValidateProjectDueDate 项目截止日期不能早于当天
func ValidateProjectDueDate(input string, now time.Time) (time.Time, error) {
	due, err := ParseDueDate(input)
	if err != nil {
		return time.Time{}, err
	}
	if due.Before(startOfDay(now)) {
		return time.Time{}, apperror.Validation("due_date", "must not be before today")
	}
	return due, nil
}

// ValidateTaskDueDate 任务截止日期只校验格式，允许过去的日期
func ValidateTaskDueDate(input string) (time.Time, error) {
	return ParseDueDate(input)
}

// ValidateProgress 必须是 [0,100] 范围内的整数
func ValidateProgress(n float64) (int, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return 0, apperror.Validation("progress", "must be an integer")
	}
	if n < 0 || n > 100 {
		return 0, apperror.Validation("progress", "must be between 0 and 100")
	}
	return int(n), nil
}

// ValidateAssignee 非空且不超过 100 个字符
func ValidateAssignee(assignee string) (string, error) {
	trimmed := strings.TrimSpace(assignee)
	if trimmed == "" {
		return "", apperror.Validation("assignee", "must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > AssigneeMax {
		return "", apperror.Validation("assignee", "must be at most %d characters", AssigneeMax)
	}
	return trimmed, nil
}

// ValidateRemark 状态变更备注必填
func ValidateRemark(remark string) (string, error) {
	trimmed := strings.TrimSpace(remark)
	if trimmed == "" {
		return "", apperror.Validation("remark", "is required")
	}
	return trimmed, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

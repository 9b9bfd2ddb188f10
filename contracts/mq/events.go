package mq

import "time"

// Routing keys published through the outbox.
const (
	ProjectCreated       = "project.created"
	ProjectUpdated       = "project.updated"
	ProjectArchived      = "project.archived"
	ProjectStatusChanged = "project.status_changed"
	ProjectDeleted       = "project.deleted"

	TaskCreated       = "task.created"
	TaskStatusChanged = "task.status_changed"
	TaskMoved         = "task.moved"
	TaskDeleted       = "task.deleted"
)

// ProgressRollupKeys 会影响项目进度的任务事件
var ProgressRollupKeys = []string{TaskCreated, TaskStatusChanged, TaskMoved, TaskDeleted}

type ProjectEventPayload struct {
	ProjectID   int       `json:"project_id"`
	UserID      int       `json:"user_id"`
	ActorID     int       `json:"actor_id"`
	Name        string    `json:"name,omitempty"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
	Archived    *bool     `json:"archived,omitempty"`
	ChangeLogID int       `json:"change_log_id,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ProjectDeletedPayload struct {
	ProjectID    int       `json:"project_id"`
	ActorID      int       `json:"actor_id"`
	TaskIDs      []int     `json:"task_ids"`
	ChangeLogIDs []int     `json:"change_log_ids"`
	TraceID      string    `json:"trace_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type TaskEventPayload struct {
	TaskID    int `json:"task_id"`
	ProjectID int `json:"project_id"`
	// FromProjectID 仅 task.moved 使用
	FromProjectID int       `json:"from_project_id,omitempty"`
	ActorID       int       `json:"actor_id"`
	OldStatus     string    `json:"old_status,omitempty"`
	NewStatus     string    `json:"new_status,omitempty"`
	ChangeLogID   int       `json:"change_log_id,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

package model

import "time"

type ProjectStatus string

const (
	ProjectInProgress     ProjectStatus = "In Progress"
	ProjectToReview       ProjectStatus = "To Review"
	ProjectCompleted      ProjectStatus = "Completed"
	ProjectOnHold         ProjectStatus = "On Hold"
	ProjectRequestChanges ProjectStatus = "Request Changes"
)

// ProjectStatuses 项目允许的状态值
var ProjectStatuses = []ProjectStatus{
	ProjectInProgress,
	ProjectToReview,
	ProjectCompleted,
	ProjectOnHold,
	ProjectRequestChanges,
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ProjectPriorities 项目没有 Critical
var ProjectPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// TaskPriorities 任务优先级
var TaskPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

type Project struct {
	ID          int           `json:"id"`
	OwnerID     int           `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Priority    Priority      `json:"priority"`
	Status      ProjectStatus `json:"status"`
	DueDate     *time.Time    `json:"due_date"`
	Progress    int           `json:"progress"`
	Archived    bool          `json:"archived"`
	ArchivedAt  *time.Time    `json:"archived_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// OwnerUserID 实现所有权判断接口
func (p Project) OwnerUserID() int {
	return p.OwnerID
}

// IsOverdue due_date 早于 now、未完成且未归档
func (p Project) IsOverdue(now time.Time) bool {
	return p.DueDate != nil && p.DueDate.Before(now) && p.Status != ProjectCompleted && !p.Archived
}

// ProjectPatch 存储层的部分更新，只写入 Set 为 true 的字段
type ProjectPatch struct {
	Name        Optional[string]
	Description Optional[string]
	Priority    Optional[Priority]
	Status      Optional[ProjectStatus]
	DueDate     Optional[*time.Time]
	Progress    Optional[int]
	Archived    Optional[bool]
	ArchivedAt  Optional[*time.Time]
}

// Empty 没有任何字段需要更新
func (p ProjectPatch) Empty() bool {
	return !p.Name.Set && !p.Description.Set && !p.Priority.Set && !p.Status.Set &&
		!p.DueDate.Set && !p.Progress.Set && !p.Archived.Set && !p.ArchivedAt.Set
}

// Apply 将 patch 写入实体（内存存储与测试使用）
func (p ProjectPatch) Apply(dst *Project) {
	if p.Name.Set {
		dst.Name = p.Name.Value
	}
	if p.Description.Set {
		dst.Description = p.Description.Value
	}
	if p.Priority.Set {
		dst.Priority = p.Priority.Value
	}
	if p.Status.Set {
		dst.Status = p.Status.Value
	}
	if p.DueDate.Set {
		dst.DueDate = cloneTime(p.DueDate.Value)
	}
	if p.Progress.Set {
		dst.Progress = p.Progress.Value
	}
	if p.Archived.Set {
		dst.Archived = p.Archived.Value
	}
	if p.ArchivedAt.Set {
		dst.ArchivedAt = cloneTime(p.ArchivedAt.Value)
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

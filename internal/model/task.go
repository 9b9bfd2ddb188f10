package model

import "time"

type TaskStatus string

const (
	TaskTodo           TaskStatus = "Todo"
	TaskInProgress     TaskStatus = "In Progress"
	TaskCompleted      TaskStatus = "Completed"
	TaskOnHold         TaskStatus = "On Hold"
	TaskRequestChanges TaskStatus = "Request Changes"
)

// TaskStatusDoneAlias 旧客户端使用的 Completed 别名
const TaskStatusDoneAlias = "Done"

// TaskStatuses 任务允许的状态值
var TaskStatuses = []TaskStatus{
	TaskTodo,
	TaskInProgress,
	TaskCompleted,
	TaskOnHold,
	TaskRequestChanges,
}

type Task struct {
	ID        int        `json:"id"`
	ProjectID int        `json:"project_id"`
	Name      string     `json:"name"`
	Contents  string     `json:"contents"`
	Status    TaskStatus `json:"status"`
	Priority  Priority   `json:"priority"`
	DueDate   *time.Time `json:"due_date"`
	Assignee  *string    `json:"assignee"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsOverdue due_date 早于 now 且未完成
func (t Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != TaskCompleted
}

// TaskPatch 存储层的部分更新
type TaskPatch struct {
	ProjectID Optional[int]
	Name      Optional[string]
	Contents  Optional[string]
	Status    Optional[TaskStatus]
	Priority  Optional[Priority]
	DueDate   Optional[*time.Time]
	Assignee  Optional[*string]
	Progress  Optional[int]
}

func (p TaskPatch) Empty() bool {
	return !p.ProjectID.Set && !p.Name.Set && !p.Contents.Set && !p.Status.Set &&
		!p.Priority.Set && !p.DueDate.Set && !p.Assignee.Set && !p.Progress.Set
}

func (p TaskPatch) Apply(dst *Task) {
	if p.ProjectID.Set {
		dst.ProjectID = p.ProjectID.Value
	}
	if p.Name.Set {
		dst.Name = p.Name.Value
	}
	if p.Contents.Set {
		dst.Contents = p.Contents.Value
	}
	if p.Status.Set {
		dst.Status = p.Status.Value
	}
	if p.Priority.Set {
		dst.Priority = p.Priority.Value
	}
	if p.DueDate.Set {
		dst.DueDate = cloneTime(p.DueDate.Value)
	}
	if p.Assignee.Set {
		dst.Assignee = cloneString(p.Assignee.Value)
	}
	if p.Progress.Set {
		dst.Progress = p.Progress.Value
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

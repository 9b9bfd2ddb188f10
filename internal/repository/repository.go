// Package repository defines the entity store contract shared by the
// PostgreSQL and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"taskhive/internal/model"
	"taskhive/pkg/outbox"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate key")
)

// Order 列表排序方式
type Order int

const (
	// OrderNewest created_at 倒序
	OrderNewest Order = iota
	// OrderDueDateAsc due_date 升序，空值排最后
	OrderDueDateAsc
	// OrderIDAsc 主键升序
	OrderIDAsc
)

// ProjectFilter 项目查询条件，零值字段不参与过滤
type ProjectFilter struct {
	OwnerID       *int
	Status        *model.ProjectStatus
	ExcludeStatus *model.ProjectStatus
	Priority      *model.Priority
	Archived      *bool
	DueBefore     *time.Time
	Search        string
	Order         Order
	Limit         int
}

// TaskFilter 任务查询条件；OwnerID 通过所属项目过滤
type TaskFilter struct {
	ProjectID     *int
	OwnerID       *int
	Status        *model.TaskStatus
	ExcludeStatus *model.TaskStatus
	Priority      *model.Priority
	Assignee      *string
	Unassigned    bool
	DueBefore     *time.Time
	Search        string
	Order         Order
	Limit         int
}

type ProjectRepository interface {
	Insert(ctx context.Context, p *model.Project) error
	FindByID(ctx context.Context, id int) (*model.Project, error)
	// FindByIDForUpdate 在事务中锁定该行
	FindByIDForUpdate(ctx context.Context, id int) (*model.Project, error)
	Find(ctx context.Context, f ProjectFilter) ([]model.Project, error)
	Count(ctx context.Context, f ProjectFilter) (int, error)
	Update(ctx context.Context, id int, patch model.ProjectPatch) error
	Delete(ctx context.Context, id int) error
}

type TaskRepository interface {
	Insert(ctx context.Context, t *model.Task) error
	FindByID(ctx context.Context, id int) (*model.Task, error)
	FindByIDForUpdate(ctx context.Context, id int) (*model.Task, error)
	Find(ctx context.Context, f TaskFilter) ([]model.Task, error)
	Count(ctx context.Context, f TaskFilter) (int, error)
	Update(ctx context.Context, id int, patch model.TaskPatch) error
	ListIDsByProject(ctx context.Context, projectID int) ([]int, error)
	DeleteByIDs(ctx context.Context, ids []int) (int, error)
}

type ChangeLogRepository interface {
	Insert(ctx context.Context, c *model.ChangeLog) error
	ListByTask(ctx context.Context, taskID int) ([]model.ChangeLog, error)
	ListByProject(ctx context.Context, projectID int) ([]model.ChangeLog, error)
	// FindIDsByReference project_id = projectID 或 task_id ∈ taskIDs
	FindIDsByReference(ctx context.Context, projectID *int, taskIDs []int) ([]int, error)
	DeleteByIDs(ctx context.Context, ids []int) (int, error)
}

type UserRepository interface {
	Insert(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id int) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// EventRepository 事务内写入 outbox 事件
type EventRepository interface {
	Append(ctx context.Context, e *outbox.Event) error
}

// Tx 事务作用域内可用的仓储
type Tx interface {
	Projects() ProjectRepository
	Tasks() TaskRepository
	ChangeLogs() ChangeLogRepository
	Events() EventRepository
}

// Store 实体存储入口
type Store interface {
	Projects() ProjectRepository
	Tasks() TaskRepository
	ChangeLogs() ChangeLogRepository
	Users() UserRepository
	// WithTx begin → fn → commit；fn 返回错误或 panic 时回滚
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

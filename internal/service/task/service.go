// Package task 任务管理、状态流转与任务查询
package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	contractsmq "taskhive/contracts/mq"
	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/internal/service"
	"taskhive/internal/validation"
	"taskhive/pkg/apperror"
	"taskhive/pkg/logger"
	"taskhive/pkg/metrics"
	"taskhive/pkg/rbac"
	"taskhive/pkg/trace"
)

const aggregate = "task"

// CreateInput 创建任务的请求体
type CreateInput struct {
	Name     string   `json:"name"`
	Contents *string  `json:"contents"`
	Status   *string  `json:"status"`
	Priority *string  `json:"priority"`
	DueDate  *string  `json:"due_date"`
	Assignee *string  `json:"assignee"`
	Progress *float64 `json:"progress"`
}

// UpdateInput 部分更新；due_date / assignee 为 null 时清空，progress 不可为 null
type UpdateInput struct {
	Name     model.Optional[string]  `json:"name"`
	Contents model.Optional[string]  `json:"contents"`
	Status   model.Optional[string]  `json:"status"`
	Priority model.Optional[string]  `json:"priority"`
	DueDate  model.Optional[*string] `json:"due_date"`
	Assignee model.Optional[*string] `json:"assignee"`
	Progress model.Optional[float64] `json:"progress"`
	Remark   model.Optional[string]  `json:"remark"`
}

// Service 任务的增删改查与状态流转
type Service struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock 测试中固定当前时间
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建任务服务
func NewService(store repository.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// authorize 加载项目并检查 principal 是否可以修改它
func authorize(ctx context.Context, projects repository.ProjectRepository, p rbac.Principal, projectID int, action string) (*model.Project, error) {
	project, err := projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, service.NotFound(err, "project", projectID)
	}
	if !validation.CanMutate(project, p) {
		return nil, apperror.Forbidden(p.UserID, fmt.Sprintf("%s in project %d", action, projectID))
	}
	return project, nil
}

func (s *Service) payload(ctx context.Context, p rbac.Principal, t *model.Task) contractsmq.TaskEventPayload {
	return contractsmq.TaskEventPayload{
		TaskID:     t.ID,
		ProjectID:  t.ProjectID,
		ActorID:    p.UserID,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: s.now(),
	}
}

// CreateTask 在项目下创建任务，项目必须存在且可被当前用户修改
func (s *Service) CreateTask(ctx context.Context, p rbac.Principal, projectID int, in CreateInput) (*model.Task, error) {
	task, err := s.buildTask(in)
	if err != nil {
		return nil, err
	}
	task.ProjectID = projectID

	err = service.RunTx(ctx, s.store, s.logger, "create_task", func(ctx context.Context, tx repository.Tx) error {
		if _, err := authorize(ctx, tx.Projects(), p, projectID, "create task"); err != nil {
			return err
		}
		if err := tx.Tasks().Insert(ctx, task); err != nil {
			return err
		}
		payload := s.payload(ctx, p, task)
		payload.NewStatus = string(task.Status)
		return service.AppendEvent(ctx, tx, aggregate, task.ID, contractsmq.TaskCreated, payload)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncrementMutation(aggregate, "create")
	logger.WithTrace(ctx, s.logger).Info("Task created",
		zap.Int("task_id", task.ID),
		zap.Int("project_id", projectID),
	)
	return task, nil
}

func (s *Service) buildTask(in CreateInput) (*model.Task, error) {
	name, err := validation.ValidateName("name", in.Name, validation.TaskNameMax)
	if err != nil {
		return nil, err
	}
	now := s.now()
	task := &model.Task{
		Name:      name,
		Status:    model.TaskTodo,
		Priority:  model.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if in.Contents != nil {
		if task.Contents, err = validation.ValidateText("contents", *in.Contents, validation.TaskContentsMax); err != nil {
			return nil, err
		}
	}
	if in.Status != nil {
		if task.Status, err = validation.ValidateTaskStatus(*in.Status); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if task.Priority, err = validation.ValidateTaskPriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.DueDate != nil {
		due, err := validation.ValidateTaskDueDate(*in.DueDate)
		if err != nil {
			return nil, err
		}
		task.DueDate = &due
	}
	if in.Assignee != nil {
		assignee, err := validation.ValidateAssignee(*in.Assignee)
		if err != nil {
			return nil, err
		}
		task.Assignee = &assignee
	}
	if in.Progress != nil {
		if task.Progress, err = validation.ValidateProgress(*in.Progress); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// UpdateTask 部分更新任务；状态变更须符合流转表，并写入 change log
func (s *Service) UpdateTask(ctx context.Context, p rbac.Principal, id int, in UpdateInput) (*model.Task, error) {
	err := service.RunTx(ctx, s.store, s.logger, "update_task", func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Tasks().FindByIDForUpdate(ctx, id)
		if err != nil {
			return service.NotFound(err, aggregate, id)
		}
		if _, err := authorize(ctx, tx.Projects(), p, current.ProjectID, "update task"); err != nil {
			return err
		}

		patch, err := buildPatch(current, in)
		if err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}
		if err := tx.Tasks().Update(ctx, id, patch); err != nil {
			return service.NotFound(err, aggregate, id)
		}
		if !patch.Status.Set {
			return nil
		}
		return s.recordStatusChange(ctx, tx, p, current, patch.Status.Value, in.Remark)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Tasks().FindByID(ctx, id)
	if err != nil {
		return nil, service.NotFound(err, aggregate, id)
	}
	metrics.IncrementMutation(aggregate, "update")
	return updated, nil
}

func buildPatch(current *model.Task, in UpdateInput) (model.TaskPatch, error) {
	var patch model.TaskPatch

	if in.Name.Set {
		name, err := validation.ValidateName("name", in.Name.Value, validation.TaskNameMax)
		if err != nil {
			return patch, err
		}
		patch.Name = model.Some(name)
	}
	if in.Contents.Set {
		contents, err := validation.ValidateText("contents", in.Contents.Value, validation.TaskContentsMax)
		if err != nil {
			return patch, err
		}
		patch.Contents = model.Some(contents)
	}
	if in.Status.Set {
		status, err := validation.ValidateTaskStatus(in.Status.Value)
		if err != nil {
			return patch, err
		}
		if status != current.Status {
			if !validation.CanTransitionTask(current.Status, status) {
				return patch, transitionError(current.Status, status)
			}
			patch.Status = model.Some(status)
		}
	}
	if in.Priority.Set {
		priority, err := validation.ValidateTaskPriority(in.Priority.Value)
		if err != nil {
			return patch, err
		}
		patch.Priority = model.Some(priority)
	}
	if in.DueDate.Set {
		if in.DueDate.Value == nil {
			patch.DueDate = model.Some[*time.Time](nil)
		} else {
			due, err := validation.ValidateTaskDueDate(*in.DueDate.Value)
			if err != nil {
				return patch, err
			}
			patch.DueDate = model.Some(&due)
		}
	}
	if in.Assignee.Set {
		if in.Assignee.Value == nil {
			patch.Assignee = model.Some[*string](nil)
		} else {
			assignee, err := validation.ValidateAssignee(*in.Assignee.Value)
			if err != nil {
				return patch, err
			}
			patch.Assignee = model.Some(&assignee)
		}
	}
	if in.Progress.Set {
		if in.Progress.Null {
			return patch, apperror.Validation("progress", "must not be null")
		}
		progress, err := validation.ValidateProgress(in.Progress.Value)
		if err != nil {
			return patch, err
		}
		patch.Progress = model.Some(progress)
	}
	return patch, nil
}

func transitionError(from, to model.TaskStatus) error {
	allowed := validation.AllowedTaskTransitions(from)
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return apperror.Validation("status", "cannot change from %s to %s, allowed: %s",
		from, to, strings.Join(names, ", "))
}

func (s *Service) recordStatusChange(ctx context.Context, tx repository.Tx, p rbac.Principal, before *model.Task, next model.TaskStatus, remark model.Optional[string]) error {
	text := fmt.Sprintf("status changed from %s to %s", before.Status, next)
	if remark.Set && !remark.Null {
		r, err := validation.ValidateRemark(remark.Value)
		if err != nil {
			return err
		}
		text = r
	}

	taskID := before.ID
	log := &model.ChangeLog{
		TaskID:    &taskID,
		OldStatus: string(before.Status),
		NewStatus: string(next),
		Remark:    text,
		CreatedAt: s.now(),
	}
	if err := tx.ChangeLogs().Insert(ctx, log); err != nil {
		return err
	}

	payload := s.payload(ctx, p, before)
	payload.OldStatus = log.OldStatus
	payload.NewStatus = log.NewStatus
	payload.ChangeLogID = log.ID
	return service.AppendEvent(ctx, tx, aggregate, before.ID, contractsmq.TaskStatusChanged, payload)
}

// ChangeTaskStatus 修改状态，remark 必填
func (s *Service) ChangeTaskStatus(ctx context.Context, p rbac.Principal, id int, status, remark string) (*model.Task, error) {
	if _, err := validation.ValidateRemark(remark); err != nil {
		return nil, err
	}
	return s.UpdateTask(ctx, p, id, UpdateInput{
		Status: model.Some(status),
		Remark: model.Some(remark),
	})
}

// AssignTask 设置负责人
func (s *Service) AssignTask(ctx context.Context, p rbac.Principal, id int, assignee string) (*model.Task, error) {
	return s.UpdateTask(ctx, p, id, UpdateInput{Assignee: model.Some(&assignee)})
}

func (s *Service) UnassignTask(ctx context.Context, p rbac.Principal, id int) (*model.Task, error) {
	return s.UpdateTask(ctx, p, id, UpdateInput{Assignee: model.Some[*string](nil)})
}

// DeleteTask 在同一事务中删除任务及其 change log
func (s *Service) DeleteTask(ctx context.Context, p rbac.Principal, id int) error {
	var logCount int
	err := service.RunTx(ctx, s.store, s.logger, "delete_task", func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.Tasks().FindByIDForUpdate(ctx, id)
		if err != nil {
			return service.NotFound(err, aggregate, id)
		}
		if _, err := authorize(ctx, tx.Projects(), p, task.ProjectID, "delete task"); err != nil {
			return err
		}

		logIDs, err := tx.ChangeLogs().FindIDsByReference(ctx, nil, []int{id})
		if err != nil {
			return err
		}
		if logCount, err = tx.ChangeLogs().DeleteByIDs(ctx, logIDs); err != nil {
			return err
		}
		if _, err := tx.Tasks().DeleteByIDs(ctx, []int{id}); err != nil {
			return err
		}
		return service.AppendEvent(ctx, tx, aggregate, id, contractsmq.TaskDeleted, s.payload(ctx, p, task))
	})
	if err != nil {
		return err
	}

	metrics.IncrementMutation(aggregate, "delete")
	metrics.AddCascadeDeleted("change_logs", logCount)
	metrics.AddCascadeDeleted("tasks", 1)
	logger.WithTrace(ctx, s.logger).Info("Task deleted", zap.Int("task_id", id), zap.Int("change_logs", logCount))
	return nil
}

// MoveTaskToProject 把任务移到 target 项目；两个项目按 id 升序加锁，且都须可修改
func (s *Service) MoveTaskToProject(ctx context.Context, p rbac.Principal, taskID, target int) (*model.Task, error) {
	var from int
	err := service.RunTx(ctx, s.store, s.logger, "move_task", func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.Tasks().FindByIDForUpdate(ctx, taskID)
		if err != nil {
			return service.NotFound(err, aggregate, taskID)
		}
		from = task.ProjectID

		ids := []int{from, target}
		sort.Ints(ids)
		locked := make([]*model.Project, 0, len(ids))
		for _, projectID := range ids {
			project, err := tx.Projects().FindByIDForUpdate(ctx, projectID)
			if err != nil {
				return service.NotFound(err, "project", projectID)
			}
			locked = append(locked, project)
		}
		// 两个项目都存在后再鉴权，目标不存在时返回 NotFound
		for _, project := range locked {
			if !validation.CanMutate(project, p) {
				return apperror.Forbidden(p.UserID, fmt.Sprintf("move task in project %d", project.ID))
			}
		}
		if from == target {
			return nil
		}

		if err := tx.Tasks().Update(ctx, taskID, model.TaskPatch{ProjectID: model.Some(target)}); err != nil {
			return service.NotFound(err, aggregate, taskID)
		}
		payload := s.payload(ctx, p, task)
		payload.ProjectID = target
		payload.FromProjectID = from
		return service.AppendEvent(ctx, tx, aggregate, taskID, contractsmq.TaskMoved, payload)
	})
	if err != nil {
		return nil, err
	}

	moved, err := s.store.Tasks().FindByID(ctx, taskID)
	if err != nil {
		return nil, service.NotFound(err, aggregate, taskID)
	}
	metrics.IncrementMutation(aggregate, "move")
	logger.WithTrace(ctx, s.logger).Info("Task moved",
		zap.Int("task_id", taskID),
		zap.Int("from_project_id", from),
		zap.Int("to_project_id", target),
	)
	return moved, nil
}

// GetTask 返回任务，要求当前用户可修改其所属项目
func (s *Service) GetTask(ctx context.Context, p rbac.Principal, id int) (*model.Task, error) {
	task, err := s.store.Tasks().FindByID(ctx, id)
	if err != nil {
		return nil, service.NotFound(err, aggregate, id)
	}
	if _, err := authorize(ctx, s.store.Projects(), p, task.ProjectID, "read task"); err != nil {
		return nil, err
	}
	return task, nil
}

// ListChangeLogs 按时间升序返回任务的状态历史
func (s *Service) ListChangeLogs(ctx context.Context, p rbac.Principal, id int) ([]model.ChangeLog, error) {
	if _, err := s.GetTask(ctx, p, id); err != nil {
		return nil, err
	}
	return s.store.ChangeLogs().ListByTask(ctx, id)
}

// Package project 项目管理与项目查询
package project

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	contractsdb "taskhive/contracts/db"
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

const aggregate = "project"

// CreateInput 创建项目的请求体；可选字段为 nil 时使用默认值
type CreateInput struct {
	// UserID 管理员可代其他用户创建
	UserID      *int     `json:"user_id"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Priority    *string  `json:"priority"`
	Status      *string  `json:"status"`
	DueDate     *string  `json:"due_date"`
	Progress    *float64 `json:"progress"`
}

// UpdateInput 部分更新；缺失的键不修改，显式 null 清空可空字段，不可空字段为 null 时报错
type UpdateInput struct {
	Name        model.Optional[string]  `json:"name"`
	Description model.Optional[string]  `json:"description"`
	Priority    model.Optional[string]  `json:"priority"`
	Status      model.Optional[string]  `json:"status"`
	DueDate     model.Optional[*string] `json:"due_date"`
	Progress    model.Optional[float64] `json:"progress"`
	Archived    model.Optional[bool]    `json:"archived"`
	// Remark 状态变更时写入 change log
	Remark model.Optional[string] `json:"remark"`
}

// Service 项目的增删改查、归档与进度汇总
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

// NewService 创建项目服务
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

// CreateProject 校验并创建项目；管理员可通过 user_id 代他人创建
func (s *Service) CreateProject(ctx context.Context, p rbac.Principal, in CreateInput) (*model.Project, error) {
	ownerID := p.UserID
	if in.UserID != nil && *in.UserID != p.UserID {
		if !p.IsAdmin() {
			return nil, apperror.Forbidden(p.UserID, "create project for another user")
		}
		ownerID = *in.UserID
	}

	now := s.now()
	project, err := s.buildProject(in, now)
	if err != nil {
		return nil, err
	}
	project.OwnerID = ownerID

	if _, err := s.store.Users().FindByID(ctx, ownerID); err != nil {
		return nil, service.NotFound(err, "user", ownerID)
	}

	err = service.RunTx(ctx, s.store, s.logger, "create_project", func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Projects().Insert(ctx, project); err != nil {
			return err
		}
		return service.AppendEvent(ctx, tx, aggregate, project.ID, contractsmq.ProjectCreated, contractsmq.ProjectEventPayload{
			ProjectID:  project.ID,
			UserID:     project.OwnerID,
			ActorID:    p.UserID,
			Name:       project.Name,
			NewStatus:  string(project.Status),
			TraceID:    trace.FromContext(ctx),
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncrementMutation(aggregate, "create")
	logger.WithTrace(ctx, s.logger).Info("Project created",
		zap.Int("project_id", project.ID),
		zap.Int("user_id", project.OwnerID),
	)
	return project, nil
}

func (s *Service) buildProject(in CreateInput, now time.Time) (*model.Project, error) {
	name, err := validation.ValidateName("name", in.Name, validation.ProjectNameMax)
	if err != nil {
		return nil, err
	}
	project := &model.Project{
		Name:      name,
		Priority:  model.PriorityMedium,
		Status:    model.ProjectInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if in.Description != nil {
		if project.Description, err = validation.ValidateText("description", *in.Description, validation.ProjectDescriptionMax); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if project.Priority, err = validation.ValidateProjectPriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.Status != nil {
		if project.Status, err = validation.ValidateProjectStatus(*in.Status); err != nil {
			return nil, err
		}
	}
	if in.DueDate != nil {
		due, err := validation.ValidateProjectDueDate(*in.DueDate, now)
		if err != nil {
			return nil, err
		}
		project.DueDate = &due
	}
	if in.Progress != nil {
		if project.Progress, err = validation.ValidateProgress(*in.Progress); err != nil {
			return nil, err
		}
	}
	return project, nil
}

// UpdateProject 部分更新项目；状态变更在同一事务中写入 change log
func (s *Service) UpdateProject(ctx context.Context, p rbac.Principal, id int, in UpdateInput) (*model.Project, error) {
	now := s.now()

	err := service.RunTx(ctx, s.store, s.logger, "update_project", func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Projects().FindByIDForUpdate(ctx, id)
		if err != nil {
			return service.NotFound(err, aggregate, id)
		}
		if !validation.CanMutate(current, p) {
			return apperror.Forbidden(p.UserID, fmt.Sprintf("update project %d", id))
		}

		patch, err := s.buildPatch(current, in, now)
		if err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}
		if err := tx.Projects().Update(ctx, id, patch); err != nil {
			return service.NotFound(err, aggregate, id)
		}
		return s.recordChanges(ctx, tx, p, current, patch, in.Remark, now)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Projects().FindByID(ctx, id)
	if err != nil {
		return nil, service.NotFound(err, aggregate, id)
	}
	metrics.IncrementMutation(aggregate, "update")
	return updated, nil
}

func (s *Service) buildPatch(current *model.Project, in UpdateInput, now time.Time) (model.ProjectPatch, error) {
	var patch model.ProjectPatch

	if in.Name.Set {
		name, err := validation.ValidateName("name", in.Name.Value, validation.ProjectNameMax)
		if err != nil {
			return patch, err
		}
		patch.Name = model.Some(name)
	}
	if in.Description.Set {
		desc, err := validation.ValidateText("description", in.Description.Value, validation.ProjectDescriptionMax)
		if err != nil {
			return patch, err
		}
		patch.Description = model.Some(desc)
	}
	if in.Priority.Set {
		priority, err := validation.ValidateProjectPriority(in.Priority.Value)
		if err != nil {
			return patch, err
		}
		patch.Priority = model.Some(priority)
	}
	if in.Status.Set {
		status, err := validation.ValidateProjectStatus(in.Status.Value)
		if err != nil {
			return patch, err
		}
		if !validation.CanTransitionProject(current.Status, status) {
			return patch, apperror.Validation("status", "cannot change from %s to %s", current.Status, status)
		}
		// 状态未变化时不写 change log
		if status != current.Status {
			patch.Status = model.Some(status)
		}
	}
	if in.DueDate.Set {
		if in.DueDate.Value == nil {
			patch.DueDate = model.Some[*time.Time](nil)
		} else {
			due, err := validation.ValidateProjectDueDate(*in.DueDate.Value, now)
			if err != nil {
				return patch, err
			}
			patch.DueDate = model.Some(&due)
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
	if in.Archived.Set {
		if in.Archived.Null {
			return patch, apperror.Validation("archived", "must not be null")
		}
		switch {
		case in.Archived.Value && !current.Archived:
			archivedAt := now
			patch.Archived = model.Some(true)
			patch.ArchivedAt = model.Some(&archivedAt)
		case !in.Archived.Value && current.Archived:
			patch.Archived = model.Some(false)
			patch.ArchivedAt = model.Some[*time.Time](nil)
		}
	}
	return patch, nil
}

// changeRemark 未提供 remark 时生成默认文本；提供了则必须通过校验
func changeRemark(remark model.Optional[string], from, to model.ProjectStatus) (string, error) {
	if !remark.Set || remark.Null {
		return fmt.Sprintf("status changed from %s to %s", from, to), nil
	}
	return validation.ValidateRemark(remark.Value)
}

func (s *Service) recordChanges(ctx context.Context, tx repository.Tx, p rbac.Principal, before *model.Project, patch model.ProjectPatch, remark model.Optional[string], now time.Time) error {
	base := contractsmq.ProjectEventPayload{
		ProjectID:  before.ID,
		UserID:     before.OwnerID,
		ActorID:    p.UserID,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: now,
	}

	if patch.Status.Set {
		text, err := changeRemark(remark, before.Status, patch.Status.Value)
		if err != nil {
			return err
		}
		projectID := before.ID
		log := &model.ChangeLog{
			ProjectID: &projectID,
			OldStatus: string(before.Status),
			NewStatus: string(patch.Status.Value),
			Remark:    text,
			CreatedAt: now,
		}
		if err := tx.ChangeLogs().Insert(ctx, log); err != nil {
			return err
		}
		payload := base
		payload.OldStatus = log.OldStatus
		payload.NewStatus = log.NewStatus
		payload.ChangeLogID = log.ID
		if err := service.AppendEvent(ctx, tx, aggregate, before.ID, contractsmq.ProjectStatusChanged, payload); err != nil {
			return err
		}
	}

	if patch.Archived.Set {
		payload := base
		archived := patch.Archived.Value
		payload.Archived = &archived
		if err := service.AppendEvent(ctx, tx, aggregate, before.ID, contractsmq.ProjectArchived, payload); err != nil {
			return err
		}
	}

	return service.AppendEvent(ctx, tx, aggregate, before.ID, contractsmq.ProjectUpdated, base)
}

// DeleteProject 级联删除项目、任务及相关 change log，任一步失败则全部回滚
func (s *Service) DeleteProject(ctx context.Context, p rbac.Principal, id int) (contractsdb.DeletePlan, error) {
	var plan contractsdb.DeletePlan

	err := service.RunTx(ctx, s.store, s.logger, "delete_project", func(ctx context.Context, tx repository.Tx) error {
		var err error
		plan, err = s.authorizedPlan(ctx, tx, p, id)
		if err != nil {
			return err
		}

		if _, err := tx.ChangeLogs().DeleteByIDs(ctx, plan.ChangeLogIDs); err != nil {
			return err
		}
		if _, err := tx.Tasks().DeleteByIDs(ctx, plan.TaskIDs); err != nil {
			return err
		}
		if err := tx.Projects().Delete(ctx, id); err != nil {
			return service.NotFound(err, aggregate, id)
		}

		return service.AppendEvent(ctx, tx, aggregate, id, contractsmq.ProjectDeleted, contractsmq.ProjectDeletedPayload{
			ProjectID:    id,
			ActorID:      p.UserID,
			TaskIDs:      plan.TaskIDs,
			ChangeLogIDs: plan.ChangeLogIDs,
			TraceID:      trace.FromContext(ctx),
			OccurredAt:   s.now(),
		})
	})
	if err != nil {
		return contractsdb.DeletePlan{}, err
	}

	metrics.IncrementMutation(aggregate, "delete")
	metrics.AddCascadeDeleted("change_logs", len(plan.ChangeLogIDs))
	metrics.AddCascadeDeleted("tasks", len(plan.TaskIDs))
	metrics.AddCascadeDeleted("projects", 1)
	logger.WithTrace(ctx, s.logger).Info("Project deleted",
		zap.Int("project_id", id),
		zap.Int("tasks", len(plan.TaskIDs)),
		zap.Int("change_logs", len(plan.ChangeLogIDs)),
	)
	return plan, nil
}

// PlanProjectDeletion 只统计 DeleteProject 将删除的内容
func (s *Service) PlanProjectDeletion(ctx context.Context, p rbac.Principal, id int) (contractsdb.DeletePlan, error) {
	var plan contractsdb.DeletePlan
	err := service.RunTx(ctx, s.store, s.logger, "plan_project_deletion", func(ctx context.Context, tx repository.Tx) error {
		var err error
		plan, err = s.authorizedPlan(ctx, tx, p, id)
		return err
	})
	return plan, err
}

func (s *Service) authorizedPlan(ctx context.Context, tx repository.Tx, p rbac.Principal, id int) (contractsdb.DeletePlan, error) {
	project, err := tx.Projects().FindByIDForUpdate(ctx, id)
	if err != nil {
		return contractsdb.DeletePlan{}, service.NotFound(err, aggregate, id)
	}
	if !validation.CanMutate(project, p) {
		return contractsdb.DeletePlan{}, apperror.Forbidden(p.UserID, fmt.Sprintf("delete project %d", id))
	}
	return buildDeletePlan(ctx, tx, id)
}

func buildDeletePlan(ctx context.Context, tx repository.Tx, projectID int) (contractsdb.DeletePlan, error) {
	taskIDs, err := tx.Tasks().ListIDsByProject(ctx, projectID)
	if err != nil {
		return contractsdb.DeletePlan{}, err
	}
	logIDs, err := tx.ChangeLogs().FindIDsByReference(ctx, &projectID, taskIDs)
	if err != nil {
		return contractsdb.DeletePlan{}, err
	}
	return contractsdb.DeletePlan{ProjectID: projectID, TaskIDs: taskIDs, ChangeLogIDs: logIDs}, nil
}

// UpdateProjectProgress n 必须是 [0,100] 内的整数
func (s *Service) UpdateProjectProgress(ctx context.Context, p rbac.Principal, id int, n float64) (*model.Project, error) {
	return s.UpdateProject(ctx, p, id, UpdateInput{Progress: model.Some(n)})
}

// ArchiveProject 归档并记录 archived_at
func (s *Service) ArchiveProject(ctx context.Context, p rbac.Principal, id int) (*model.Project, error) {
	return s.UpdateProject(ctx, p, id, UpdateInput{Archived: model.Some(true)})
}

func (s *Service) UnarchiveProject(ctx context.Context, p rbac.Principal, id int) (*model.Project, error) {
	return s.UpdateProject(ctx, p, id, UpdateInput{Archived: model.Some(false)})
}

// ChangeProjectStatus 修改状态，remark 必填
func (s *Service) ChangeProjectStatus(ctx context.Context, p rbac.Principal, id int, status, remark string) (*model.Project, error) {
	if _, err := validation.ValidateRemark(remark); err != nil {
		return nil, err
	}
	return s.UpdateProject(ctx, p, id, UpdateInput{
		Status: model.Some(status),
		Remark: model.Some(remark),
	})
}

// RecalculateProgress 按已完成任务占比重算进度；供后台 worker 调用，不做权限检查
func (s *Service) RecalculateProgress(ctx context.Context, id int) (int, error) {
	var progress int
	err := service.RunTx(ctx, s.store, s.logger, "recalculate_progress", func(ctx context.Context, tx repository.Tx) error {
		project, err := tx.Projects().FindByIDForUpdate(ctx, id)
		if err != nil {
			return service.NotFound(err, aggregate, id)
		}

		total, err := tx.Tasks().Count(ctx, repository.TaskFilter{ProjectID: &id})
		if err != nil {
			return err
		}
		completed := model.TaskCompleted
		done, err := tx.Tasks().Count(ctx, repository.TaskFilter{ProjectID: &id, Status: &completed})
		if err != nil {
			return err
		}

		progress = 0
		if total > 0 {
			progress = done * 100 / total
		}
		if progress == project.Progress {
			return nil
		}
		return tx.Projects().Update(ctx, id, model.ProjectPatch{Progress: model.Some(progress)})
	})
	return progress, err
}

// GetProject 返回当前用户可见的项目
func (s *Service) GetProject(ctx context.Context, p rbac.Principal, id int) (*model.Project, error) {
	project, err := s.store.Projects().FindByID(ctx, id)
	if err != nil {
		return nil, service.NotFound(err, aggregate, id)
	}
	if !validation.CanMutate(project, p) {
		return nil, apperror.Forbidden(p.UserID, fmt.Sprintf("read project %d", id))
	}
	return project, nil
}

// ListChangeLogs 按时间升序返回项目的状态历史
func (s *Service) ListChangeLogs(ctx context.Context, p rbac.Principal, id int) ([]model.ChangeLog, error) {
	if _, err := s.GetProject(ctx, p, id); err != nil {
		return nil, err
	}
	return s.store.ChangeLogs().ListByProject(ctx, id)
}

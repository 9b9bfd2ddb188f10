package task

import (
	"context"

	"golang.org/x/sync/errgroup"

	contractsdb "taskhive/contracts/db"
	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/internal/validation"
	"taskhive/pkg/rbac"
)

// ListQuery 任务多条件查询
type ListQuery struct {
	ProjectID  *int
	Status     string
	Priority   string
	Assignee   string
	Unassigned bool
	Search     string
	Limit      int
}

// scope 非管理员只能看到自己项目下的任务；指定了他人 owner 时 visible 为 false
func scope(p rbac.Principal, f repository.TaskFilter) (scoped repository.TaskFilter, visible bool) {
	if rbac.HasPermission(p, rbac.PermissionViewAll) {
		return f, true
	}
	if f.OwnerID != nil && *f.OwnerID != p.UserID {
		return f, false
	}
	uid := p.UserID
	f.OwnerID = &uid
	return f, true
}

func (s *Service) find(ctx context.Context, p rbac.Principal, f repository.TaskFilter) ([]model.Task, error) {
	scoped, visible := scope(p, f)
	if !visible {
		return []model.Task{}, nil
	}
	return s.store.Tasks().Find(ctx, scoped)
}

// ListByProject 项目不存在返回 NotFound，无权访问返回 Forbidden
func (s *Service) ListByProject(ctx context.Context, p rbac.Principal, projectID int) ([]model.Task, error) {
	if _, err := authorize(ctx, s.store.Projects(), p, projectID, "list tasks"); err != nil {
		return nil, err
	}
	return s.store.Tasks().Find(ctx, repository.TaskFilter{ProjectID: &projectID})
}

func (s *Service) ListByStatus(ctx context.Context, p rbac.Principal, status string) ([]model.Task, error) {
	st, err := validation.ValidateTaskStatus(status)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, p, repository.TaskFilter{Status: &st})
}

func (s *Service) ListByPriority(ctx context.Context, p rbac.Principal, priority string) ([]model.Task, error) {
	pr, err := validation.ValidateTaskPriority(priority)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, p, repository.TaskFilter{
		Priority: &pr,
		Order:    repository.OrderDueDateAsc,
	})
}

func (s *Service) ListByAssignee(ctx context.Context, p rbac.Principal, assignee string) ([]model.Task, error) {
	a, err := validation.ValidateAssignee(assignee)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, p, repository.TaskFilter{Assignee: &a})
}

// ListOverdue due_date < now 且未完成
func (s *Service) ListOverdue(ctx context.Context, p rbac.Principal) ([]model.Task, error) {
	return s.find(ctx, p, s.overdueFilter(repository.TaskFilter{}))
}

func (s *Service) overdueFilter(f repository.TaskFilter) repository.TaskFilter {
	now := s.now()
	completed := model.TaskCompleted
	f.DueBefore = &now
	f.ExcludeStatus = &completed
	f.Order = repository.OrderDueDateAsc
	return f
}

// Search name/contents/assignee 不区分大小写
func (s *Service) Search(ctx context.Context, p rbac.Principal, term string) ([]model.Task, error) {
	if term == "" {
		return []model.Task{}, nil
	}
	return s.find(ctx, p, repository.TaskFilter{Search: term})
}

func (s *Service) List(ctx context.Context, p rbac.Principal, q ListQuery) ([]model.Task, error) {
	f := repository.TaskFilter{
		ProjectID:  q.ProjectID,
		Unassigned: q.Unassigned,
		Search:     q.Search,
		Limit:      q.Limit,
	}
	if q.Status != "" {
		st, err := validation.ValidateTaskStatus(q.Status)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}
	if q.Priority != "" {
		pr, err := validation.ValidateTaskPriority(q.Priority)
		if err != nil {
			return nil, err
		}
		f.Priority = &pr
	}
	if q.Assignee != "" {
		a, err := validation.ValidateAssignee(q.Assignee)
		if err != nil {
			return nil, err
		}
		f.Assignee = &a
	}
	return s.find(ctx, p, f)
}

// Stats 统计任务；projectID 为 nil 时统计 principal 可见的全部任务
func (s *Service) Stats(ctx context.Context, p rbac.Principal, projectID *int) (contractsdb.TaskStats, error) {
	base, _ := scope(p, repository.TaskFilter{})
	stats := contractsdb.TaskStats{
		ByStatus:   make(map[string]int, len(model.TaskStatuses)),
		ByPriority: make(map[string]int, len(model.TaskPriorities)),
	}
	if projectID != nil {
		if _, err := authorize(ctx, s.store.Projects(), p, *projectID, "read stats"); err != nil {
			return contractsdb.TaskStats{}, err
		}
		base = repository.TaskFilter{ProjectID: projectID}
		stats.ProjectID = *projectID
	}

	repo := s.store.Tasks()
	statusCounts := make([]int, len(model.TaskStatuses))
	priorityCounts := make([]int, len(model.TaskPriorities))
	var overdue []model.Task

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Total, err = repo.Count(gctx, base)
		return err
	})
	g.Go(func() (err error) {
		f := base
		f.Unassigned = true
		stats.Unassigned, err = repo.Count(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = repo.Find(gctx, s.overdueFilter(base))
		return err
	})
	for i, st := range model.TaskStatuses {
		g.Go(func() (err error) {
			f := base
			f.Status = &st
			statusCounts[i], err = repo.Count(gctx, f)
			return err
		})
	}
	for i, pr := range model.TaskPriorities {
		g.Go(func() (err error) {
			f := base
			f.Priority = &pr
			priorityCounts[i], err = repo.Count(gctx, f)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return contractsdb.TaskStats{}, err
	}

	for i, st := range model.TaskStatuses {
		stats.ByStatus[string(st)] = statusCounts[i]
	}
	for i, pr := range model.TaskPriorities {
		stats.ByPriority[string(pr)] = priorityCounts[i]
	}
	stats.Overdue = len(overdue)
	stats.Total = max(stats.Total, stats.Overdue, stats.Unassigned)
	return stats, nil
}

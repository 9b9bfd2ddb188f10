package project

import (
	"context"

	"golang.org/x/sync/errgroup"

	contractsdb "taskhive/contracts/db"
	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/internal/validation"
	"taskhive/pkg/rbac"
)

// ListQuery 多条件查询；空字符串表示不过滤
type ListQuery struct {
	OwnerID  *int
	Status   string
	Priority string
	Archived *bool
	Search   string
	Limit    int
}

// scope 非管理员只能看到自己的项目；指定了他人 owner_id 时 visible 为 false
func scope(p rbac.Principal, f repository.ProjectFilter) (scoped repository.ProjectFilter, visible bool) {
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

func (s *Service) find(ctx context.Context, p rbac.Principal, f repository.ProjectFilter) ([]model.Project, error) {
	scoped, visible := scope(p, f)
	if !visible {
		return []model.Project{}, nil
	}
	return s.store.Projects().Find(ctx, scoped)
}

// ListByOwner newest first
func (s *Service) ListByOwner(ctx context.Context, p rbac.Principal, ownerID int) ([]model.Project, error) {
	return s.find(ctx, p, repository.ProjectFilter{OwnerID: &ownerID})
}

func (s *Service) ListByStatus(ctx context.Context, p rbac.Principal, status string) ([]model.Project, error) {
	st, err := validation.ValidateProjectStatus(status)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, p, repository.ProjectFilter{Status: &st})
}

// ListByPriority 按截止日期升序
func (s *Service) ListByPriority(ctx context.Context, p rbac.Principal, priority string) ([]model.Project, error) {
	pr, err := validation.ValidateProjectPriority(priority)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, p, repository.ProjectFilter{
		Priority: &pr,
		Order:    repository.OrderDueDateAsc,
	})
}

func (s *Service) ListArchived(ctx context.Context, p rbac.Principal) ([]model.Project, error) {
	archived := true
	return s.find(ctx, p, repository.ProjectFilter{Archived: &archived})
}

func (s *Service) ListActive(ctx context.Context, p rbac.Principal) ([]model.Project, error) {
	archived := false
	return s.find(ctx, p, repository.ProjectFilter{Archived: &archived})
}

// ListOverdue due_date < now，未完成且未归档
func (s *Service) ListOverdue(ctx context.Context, p rbac.Principal) ([]model.Project, error) {
	return s.find(ctx, p, s.overdueFilter())
}

func (s *Service) overdueFilter() repository.ProjectFilter {
	now := s.now()
	completed := model.ProjectCompleted
	archived := false
	return repository.ProjectFilter{
		DueBefore:     &now,
		ExcludeStatus: &completed,
		Archived:      &archived,
		Order:         repository.OrderDueDateAsc,
	}
}

// Search name/description 不区分大小写的子串匹配
func (s *Service) Search(ctx context.Context, p rbac.Principal, term string) ([]model.Project, error) {
	if term == "" {
		return []model.Project{}, nil
	}
	return s.find(ctx, p, repository.ProjectFilter{Search: term})
}

func (s *Service) List(ctx context.Context, p rbac.Principal, q ListQuery) ([]model.Project, error) {
	f := repository.ProjectFilter{
		OwnerID:  q.OwnerID,
		Archived: q.Archived,
		Search:   q.Search,
		Limit:    q.Limit,
	}
	if q.Status != "" {
		st, err := validation.ValidateProjectStatus(q.Status)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}
	if q.Priority != "" {
		pr, err := validation.ValidateProjectPriority(q.Priority)
		if err != nil {
			return nil, err
		}
		f.Priority = &pr
	}
	return s.find(ctx, p, f)
}

// Stats 并行执行各项计数
func (s *Service) Stats(ctx context.Context, p rbac.Principal) (contractsdb.ProjectStats, error) {
	repo := s.store.Projects()
	base, _ := scope(p, repository.ProjectFilter{})

	stats := contractsdb.ProjectStats{
		ByStatus:   make(map[string]int, len(model.ProjectStatuses)),
		ByPriority: make(map[string]int, len(model.ProjectPriorities)),
	}
	statusCounts := make([]int, len(model.ProjectStatuses))
	priorityCounts := make([]int, len(model.ProjectPriorities))
	var overdue []model.Project

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Total, err = repo.Count(gctx, base)
		return err
	})
	g.Go(func() (err error) {
		f := base
		archived := true
		f.Archived = &archived
		stats.Archived, err = repo.Count(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		overdue, err = s.find(gctx, p, s.overdueFilter())
		return err
	})
	for i, st := range model.ProjectStatuses {
		g.Go(func() (err error) {
			f := base
			f.Status = &st
			statusCounts[i], err = repo.Count(gctx, f)
			return err
		})
	}
	for i, pr := range model.ProjectPriorities {
		g.Go(func() (err error) {
			f := base
			f.Priority = &pr
			priorityCounts[i], err = repo.Count(gctx, f)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return contractsdb.ProjectStats{}, err
	}

	for i, st := range model.ProjectStatuses {
		stats.ByStatus[string(st)] = statusCounts[i]
	}
	for i, pr := range model.ProjectPriorities {
		stats.ByPriority[string(pr)] = priorityCounts[i]
	}
	stats.Overdue = len(overdue)

	// 计数之间没有快照一致性，写入并发时需要钳制
	stats.Total = max(stats.Total, stats.Archived, stats.Overdue)
	stats.Active = stats.Total - stats.Archived
	return stats, nil
}

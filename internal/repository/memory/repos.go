package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/pkg/outbox"
)

type projectRepo struct {
	h handle
}

func (r *projectRepo) Insert(_ context.Context, p *model.Project) error {
	if err := r.h.check("projects.Insert"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		if _, ok := st.users[p.OwnerID]; !ok {
			return ErrForeignKey
		}
		if p.Archived != (p.ArchivedAt != nil) {
			return ErrCheckViolation
		}
		st.nextProjectID++
		p.ID = st.nextProjectID
		if p.CreatedAt.IsZero() {
			p.CreatedAt = r.h.now()
		}
		p.UpdatedAt = p.CreatedAt
		st.projects[p.ID] = cloneProject(*p)
		return nil
	})
}

func (r *projectRepo) FindByID(_ context.Context, id int) (*model.Project, error) {
	if err := r.h.check("projects.FindByID"); err != nil {
		return nil, err
	}
	var out *model.Project
	err := r.h.read(func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneProject(p)
		out = &cp
		return nil
	})
	return out, err
}

// FindByIDForUpdate 事务已持有写锁，等同 FindByID
func (r *projectRepo) FindByIDForUpdate(ctx context.Context, id int) (*model.Project, error) {
	return r.FindByID(ctx, id)
}

func (r *projectRepo) Find(_ context.Context, f repository.ProjectFilter) ([]model.Project, error) {
	if err := r.h.check("projects.Find"); err != nil {
		return nil, err
	}
	out := []model.Project{}
	err := r.h.read(func(st *state) error {
		for _, p := range st.projects {
			if matchProject(p, f) {
				out = append(out, cloneProject(p))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProjects(out, f.Order)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *projectRepo) Count(_ context.Context, f repository.ProjectFilter) (int, error) {
	if err := r.h.check("projects.Count"); err != nil {
		return 0, err
	}
	n := 0
	err := r.h.read(func(st *state) error {
		for _, p := range st.projects {
			if matchProject(p, f) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *projectRepo) Update(_ context.Context, id int, patch model.ProjectPatch) error {
	if err := r.h.check("projects.Update"); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	return r.h.write(func(st *state) error {
		p, ok := st.projects[id]
		if !ok {
			return repository.ErrNotFound
		}
		updated := cloneProject(p)
		patch.Apply(&updated)
		if updated.Archived != (updated.ArchivedAt != nil) {
			return ErrCheckViolation
		}
		updated.UpdatedAt = r.h.now()
		st.projects[id] = updated
		return nil
	})
}

func (r *projectRepo) Delete(_ context.Context, id int) error {
	if err := r.h.check("projects.Delete"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		if _, ok := st.projects[id]; !ok {
			return repository.ErrNotFound
		}
		for _, t := range st.tasks {
			if t.ProjectID == id {
				return ErrForeignKey
			}
		}
		for _, c := range st.changeLogs {
			if c.ProjectID != nil && *c.ProjectID == id {
				return ErrForeignKey
			}
		}
		delete(st.projects, id)
		return nil
	})
}

func matchProject(p model.Project, f repository.ProjectFilter) bool {
	if f.OwnerID != nil && p.OwnerID != *f.OwnerID {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.ExcludeStatus != nil && p.Status == *f.ExcludeStatus {
		return false
	}
	if f.Priority != nil && p.Priority != *f.Priority {
		return false
	}
	if f.Archived != nil && p.Archived != *f.Archived {
		return false
	}
	if f.DueBefore != nil && (p.DueDate == nil || !p.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, p.Name, p.Description) {
		return false
	}
	return true
}

func sortProjects(list []model.Project, order repository.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch order {
		case repository.OrderDueDateAsc:
			if less, decided := dueLess(a.DueDate, b.DueDate); decided {
				return less
			}
			return a.ID < b.ID
		case repository.OrderIDAsc:
			return a.ID < b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	})
}

type taskRepo struct {
	h handle
}

func (r *taskRepo) Insert(_ context.Context, t *model.Task) error {
	if err := r.h.check("tasks.Insert"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		if _, ok := st.projects[t.ProjectID]; !ok {
			return ErrForeignKey
		}
		st.nextTaskID++
		t.ID = st.nextTaskID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = r.h.now()
		}
		t.UpdatedAt = t.CreatedAt
		st.tasks[t.ID] = cloneTask(*t)
		return nil
	})
}

func (r *taskRepo) FindByID(_ context.Context, id int) (*model.Task, error) {
	if err := r.h.check("tasks.FindByID"); err != nil {
		return nil, err
	}
	var out *model.Task
	err := r.h.read(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok {
			return repository.ErrNotFound
		}
		ct := cloneTask(t)
		out = &ct
		return nil
	})
	return out, err
}

func (r *taskRepo) FindByIDForUpdate(ctx context.Context, id int) (*model.Task, error) {
	return r.FindByID(ctx, id)
}

func (r *taskRepo) Find(_ context.Context, f repository.TaskFilter) ([]model.Task, error) {
	if err := r.h.check("tasks.Find"); err != nil {
		return nil, err
	}
	out := []model.Task{}
	err := r.h.read(func(st *state) error {
		for _, t := range st.tasks {
			if matchTask(st, t, f) {
				out = append(out, cloneTask(t))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTasks(out, f.Order)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *taskRepo) Count(_ context.Context, f repository.TaskFilter) (int, error) {
	if err := r.h.check("tasks.Count"); err != nil {
		return 0, err
	}
	n := 0
	err := r.h.read(func(st *state) error {
		for _, t := range st.tasks {
			if matchTask(st, t, f) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *taskRepo) Update(_ context.Context, id int, patch model.TaskPatch) error {
	if err := r.h.check("tasks.Update"); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	return r.h.write(func(st *state) error {
		t, ok := st.tasks[id]
		if !ok {
			return repository.ErrNotFound
		}
		if patch.ProjectID.Set {
			if _, ok := st.projects[patch.ProjectID.Value]; !ok {
				return ErrForeignKey
			}
		}
		updated := cloneTask(t)
		patch.Apply(&updated)
		updated.UpdatedAt = r.h.now()
		st.tasks[id] = updated
		return nil
	})
}

func (r *taskRepo) ListIDsByProject(_ context.Context, projectID int) ([]int, error) {
	if err := r.h.check("tasks.ListIDsByProject"); err != nil {
		return nil, err
	}
	ids := []int{}
	err := r.h.read(func(st *state) error {
		for id, t := range st.tasks {
			if t.ProjectID == projectID {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Ints(ids)
	return ids, err
}

func (r *taskRepo) DeleteByIDs(_ context.Context, ids []int) (int, error) {
	if err := r.h.check("tasks.DeleteByIDs"); err != nil {
		return 0, err
	}
	deleted := 0
	err := r.h.write(func(st *state) error {
		targets := make(map[int]bool, len(ids))
		for _, id := range ids {
			targets[id] = true
		}
		for _, c := range st.changeLogs {
			if c.TaskID != nil && targets[*c.TaskID] {
				return ErrForeignKey
			}
		}
		for id := range targets {
			if _, ok := st.tasks[id]; ok {
				delete(st.tasks, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func matchTask(st *state, t model.Task, f repository.TaskFilter) bool {
	if f.ProjectID != nil && t.ProjectID != *f.ProjectID {
		return false
	}
	if f.OwnerID != nil {
		p, ok := st.projects[t.ProjectID]
		if !ok || p.OwnerID != *f.OwnerID {
			return false
		}
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.ExcludeStatus != nil && t.Status == *f.ExcludeStatus {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Assignee != nil && (t.Assignee == nil || *t.Assignee != *f.Assignee) {
		return false
	}
	if f.Unassigned && t.Assignee != nil {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.Search != "" {
		assignee := ""
		if t.Assignee != nil {
			assignee = *t.Assignee
		}
		if !containsFold(f.Search, t.Name, t.Contents, assignee) {
			return false
		}
	}
	return true
}

func sortTasks(list []model.Task, order repository.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch order {
		case repository.OrderDueDateAsc:
			if less, decided := dueLess(a.DueDate, b.DueDate); decided {
				return less
			}
			return a.ID < b.ID
		case repository.OrderIDAsc:
			return a.ID < b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	})
}

type changeLogRepo struct {
	h handle
}

func (r *changeLogRepo) Insert(_ context.Context, c *model.ChangeLog) error {
	if err := r.h.check("changelogs.Insert"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		if c.TaskID == nil && c.ProjectID == nil {
			return ErrCheckViolation
		}
		if c.TaskID != nil {
			if _, ok := st.tasks[*c.TaskID]; !ok {
				return ErrForeignKey
			}
		}
		if c.ProjectID != nil {
			if _, ok := st.projects[*c.ProjectID]; !ok {
				return ErrForeignKey
			}
		}
		st.nextChangeLogID++
		c.ID = st.nextChangeLogID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = r.h.now()
		}
		st.changeLogs[c.ID] = cloneChangeLog(*c)
		return nil
	})
}

func (r *changeLogRepo) ListByTask(_ context.Context, taskID int) ([]model.ChangeLog, error) {
	return r.list(func(c model.ChangeLog) bool {
		return c.TaskID != nil && *c.TaskID == taskID
	})
}

func (r *changeLogRepo) ListByProject(_ context.Context, projectID int) ([]model.ChangeLog, error) {
	return r.list(func(c model.ChangeLog) bool {
		return c.ProjectID != nil && *c.ProjectID == projectID
	})
}

func (r *changeLogRepo) list(match func(model.ChangeLog) bool) ([]model.ChangeLog, error) {
	if err := r.h.check("changelogs.List"); err != nil {
		return nil, err
	}
	out := []model.ChangeLog{}
	err := r.h.read(func(st *state) error {
		for _, c := range st.changeLogs {
			if match(c) {
				out = append(out, cloneChangeLog(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *changeLogRepo) FindIDsByReference(_ context.Context, projectID *int, taskIDs []int) ([]int, error) {
	if err := r.h.check("changelogs.FindIDsByReference"); err != nil {
		return nil, err
	}
	tasks := make(map[int]bool, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = true
	}
	ids := []int{}
	err := r.h.read(func(st *state) error {
		for id, c := range st.changeLogs {
			byProject := projectID != nil && c.ProjectID != nil && *c.ProjectID == *projectID
			byTask := c.TaskID != nil && tasks[*c.TaskID]
			if byProject || byTask {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Ints(ids)
	return ids, err
}

func (r *changeLogRepo) DeleteByIDs(_ context.Context, ids []int) (int, error) {
	if err := r.h.check("changelogs.DeleteByIDs"); err != nil {
		return 0, err
	}
	deleted := 0
	err := r.h.write(func(st *state) error {
		for _, id := range ids {
			if _, ok := st.changeLogs[id]; ok {
				delete(st.changeLogs, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

type userRepo struct {
	h handle
}

func (r *userRepo) Insert(_ context.Context, u *model.User) error {
	if err := r.h.check("users.Insert"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return repository.ErrDuplicate
			}
		}
		st.nextUserID++
		u.ID = st.nextUserID
		if u.CreatedAt.IsZero() {
			u.CreatedAt = r.h.now()
		}
		st.users[u.ID] = cloneUser(*u)
		return nil
	})
}

func (r *userRepo) FindByID(_ context.Context, id int) (*model.User, error) {
	var out *model.User
	err := r.h.read(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		cu := cloneUser(u)
		out = &cu
		return nil
	})
	return out, err
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	var out *model.User
	err := r.h.read(func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				cu := cloneUser(u)
				out = &cu
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

type eventRepo struct {
	h handle
}

func (r *eventRepo) Append(_ context.Context, e *outbox.Event) error {
	if err := r.h.check("events.Append"); err != nil {
		return err
	}
	return r.h.write(func(st *state) error {
		st.nextEventID++
		e.ID = st.nextEventID
		now := r.h.now()
		e.CreatedAt = now
		e.UpdatedAt = now
		if e.Status == "" {
			e.Status = outbox.StatusPending
		}
		st.events[e.ID] = cloneEvent(*e)
		return nil
	})
}

func containsFold(search string, fields ...string) bool {
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// dueLess 空 due_date 排在最后；decided 为 false 时两者相等
func dueLess(a, b *time.Time) (less bool, decided bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case a.Equal(*b):
		return false, false
	default:
		return a.Before(*b), true
	}
}

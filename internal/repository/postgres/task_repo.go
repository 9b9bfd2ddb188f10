package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskhive/internal/model"
	"taskhive/internal/repository"
)

const taskColumns = `id, project_id, name, contents, status, priority, due_date,
	assignee, progress, created_at, updated_at`

type taskRepo struct {
	db     dbtx
	logger *zap.Logger
}

func (r *taskRepo) Insert(ctx context.Context, t *model.Task) error {
	query := `
        INSERT INTO tasks (project_id, name, contents, status, priority, due_date,
                           assignee, progress, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        RETURNING id
    `
	r.logger.Debug("Inserting task", zap.Int("project_id", t.ProjectID), zap.String("name", t.Name))
	err := r.db.QueryRow(ctx, query,
		t.ProjectID,
		t.Name,
		t.Contents,
		t.Status,
		t.Priority,
		t.DueDate,
		t.Assignee,
		t.Progress,
		t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *taskRepo) FindByID(ctx context.Context, id int) (*model.Task, error) {
	return scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (r *taskRepo) FindByIDForUpdate(ctx context.Context, id int) (*model.Task, error) {
	return scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

func (r *taskRepo) Find(ctx context.Context, f repository.TaskFilter) ([]model.Task, error) {
	where := taskWhere(f)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where.String() + taskOrder(f.Order) + limitClause(f.Limit)

	rows, err := r.db.Query(ctx, query, where.args...)
	if err != nil {
		r.logger.Error("Failed to query tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *taskRepo) Count(ctx context.Context, f repository.TaskFilter) (int, error) {
	where := taskWhere(f)
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+where.String(), where.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func (r *taskRepo) Update(ctx context.Context, id int, patch model.TaskPatch) error {
	if patch.Empty() {
		return nil
	}

	var set setBuilder
	if patch.ProjectID.Set {
		set.add("project_id", patch.ProjectID.Value)
	}
	if patch.Name.Set {
		set.add("name", patch.Name.Value)
	}
	if patch.Contents.Set {
		set.add("contents", patch.Contents.Value)
	}
	if patch.Status.Set {
		set.add("status", patch.Status.Value)
	}
	if patch.Priority.Set {
		set.add("priority", patch.Priority.Value)
	}
	if patch.DueDate.Set {
		set.add("due_date", patch.DueDate.Value)
	}
	if patch.Assignee.Set {
		set.add("assignee", patch.Assignee.Value)
	}
	if patch.Progress.Set {
		set.add("progress", patch.Progress.Value)
	}
	args := append(set.args, id)
	query := fmt.Sprintf(`UPDATE tasks SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(set.sets, ", "), len(args))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update task", zap.Int("task_id", id), zap.Error(err))
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListIDsByProject 删除计划使用，按 id 升序
func (r *taskRepo) ListIDsByProject(ctx context.Context, projectID int) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM tasks WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *taskRepo) DeleteByIDs(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func taskWhere(f repository.TaskFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.ProjectID != nil {
		w.add("project_id = $%d", *f.ProjectID)
	}
	if f.OwnerID != nil {
		w.add("project_id IN (SELECT id FROM projects WHERE user_id = $%d)", *f.OwnerID)
	}
	if f.Status != nil {
		w.add("status = $%d", *f.Status)
	}
	if f.ExcludeStatus != nil {
		w.add("status <> $%d", *f.ExcludeStatus)
	}
	if f.Priority != nil {
		w.add("priority = $%d", *f.Priority)
	}
	if f.Assignee != nil {
		w.add("assignee = $%d", *f.Assignee)
	}
	if f.Unassigned {
		w.conds = append(w.conds, "assignee IS NULL")
	}
	if f.DueBefore != nil {
		w.add("(due_date IS NOT NULL AND due_date < $%d)", *f.DueBefore)
	}
	if f.Search != "" {
		w.add("(name ILIKE $%[1]d OR contents ILIKE $%[1]d OR assignee ILIKE $%[1]d)", likePattern(f.Search))
	}
	return w
}

func taskOrder(o repository.Order) string {
	switch o {
	case repository.OrderDueDateAsc:
		return " ORDER BY due_date ASC NULLS LAST, id ASC"
	case repository.OrderIDAsc:
		return " ORDER BY id ASC"
	default:
		return " ORDER BY created_at DESC, id DESC"
	}
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Name,
		&t.Contents,
		&t.Status,
		&t.Priority,
		&t.DueDate,
		&t.Assignee,
		&t.Progress,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

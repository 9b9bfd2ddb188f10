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

const projectColumns = `id, user_id, name, description, priority, status, due_date,
	progress, archived, archived_at, created_at, updated_at`

type projectRepo struct {
	db     dbtx
	logger *zap.Logger
}

// Insert writes a new project and fills its id.
func (r *projectRepo) Insert(ctx context.Context, p *model.Project) error {
	query := `
        INSERT INTO projects (user_id, name, description, priority, status, due_date,
                              progress, archived, archived_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
        RETURNING id
    `
	r.logger.Debug("Inserting project", zap.Int("user_id", p.OwnerID), zap.String("name", p.Name))
	err := r.db.QueryRow(ctx, query,
		p.OwnerID,
		p.Name,
		p.Description,
		p.Priority,
		p.Status,
		p.DueDate,
		p.Progress,
		p.Archived,
		p.ArchivedAt,
		p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (r *projectRepo) FindByID(ctx context.Context, id int) (*model.Project, error) {
	row := r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// FindByIDForUpdate 锁定行直到事务结束
func (r *projectRepo) FindByIDForUpdate(ctx context.Context, id int) (*model.Project, error) {
	row := r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id)
	return scanProject(row)
}

func (r *projectRepo) Find(ctx context.Context, f repository.ProjectFilter) ([]model.Project, error) {
	where := projectWhere(f)
	query := `SELECT ` + projectColumns + ` FROM projects` + where.String() + projectOrder(f.Order) + limitClause(f.Limit)

	rows, err := r.db.Query(ctx, query, where.args...)
	if err != nil {
		r.logger.Error("Failed to query projects", zap.Error(err))
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (r *projectRepo) Count(ctx context.Context, f repository.ProjectFilter) (int, error) {
	where := projectWhere(f)
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM projects`+where.String(), where.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}

// Update 只写入 patch 中出现的列
func (r *projectRepo) Update(ctx context.Context, id int, patch model.ProjectPatch) error {
	if patch.Empty() {
		return nil
	}

	var set setBuilder
	if patch.Name.Set {
		set.add("name", patch.Name.Value)
	}
	if patch.Description.Set {
		set.add("description", patch.Description.Value)
	}
	if patch.Priority.Set {
		set.add("priority", patch.Priority.Value)
	}
	if patch.Status.Set {
		set.add("status", patch.Status.Value)
	}
	if patch.DueDate.Set {
		set.add("due_date", patch.DueDate.Value)
	}
	if patch.Progress.Set {
		set.add("progress", patch.Progress.Value)
	}
	if patch.Archived.Set {
		set.add("archived", patch.Archived.Value)
	}
	if patch.ArchivedAt.Set {
		set.add("archived_at", patch.ArchivedAt.Value)
	}
	args := append(set.args, id)
	query := fmt.Sprintf(`UPDATE projects SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(set.sets, ", "), len(args))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update project", zap.Int("project_id", id), zap.Error(err))
		return fmt.Errorf("failed to update project %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *projectRepo) Delete(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func projectWhere(f repository.ProjectFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.OwnerID != nil {
		w.add("user_id = $%d", *f.OwnerID)
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
	if f.Archived != nil {
		w.add("archived = $%d", *f.Archived)
	}
	if f.DueBefore != nil {
		w.add("(due_date IS NOT NULL AND due_date < $%d)", *f.DueBefore)
	}
	if f.Search != "" {
		w.add("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", likePattern(f.Search))
	}
	return w
}

func projectOrder(o repository.Order) string {
	switch o {
	case repository.OrderDueDateAsc:
		return " ORDER BY due_date ASC NULLS LAST, id ASC"
	case repository.OrderIDAsc:
		return " ORDER BY id ASC"
	default:
		return " ORDER BY created_at DESC, id DESC"
	}
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Description,
		&p.Priority,
		&p.Status,
		&p.DueDate,
		&p.Progress,
		&p.Archived,
		&p.ArchivedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

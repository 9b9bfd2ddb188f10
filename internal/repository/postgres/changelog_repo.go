package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskhive/internal/model"
)

type changeLogRepo struct {
	db     dbtx
	logger *zap.Logger
}

func (r *changeLogRepo) Insert(ctx context.Context, c *model.ChangeLog) error {
	query := `
        INSERT INTO change_logs (task_id, project_id, old_status, new_status, remark, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	err := r.db.QueryRow(ctx, query,
		c.TaskID,
		c.ProjectID,
		c.OldStatus,
		c.NewStatus,
		c.Remark,
		c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		r.logger.Error("Failed to insert change log", zap.Error(err))
		return fmt.Errorf("failed to insert change log: %w", err)
	}
	return nil
}

func (r *changeLogRepo) ListByTask(ctx context.Context, taskID int) ([]model.ChangeLog, error) {
	return r.list(ctx, `WHERE task_id = $1`, taskID)
}

func (r *changeLogRepo) ListByProject(ctx context.Context, projectID int) ([]model.ChangeLog, error) {
	return r.list(ctx, `WHERE project_id = $1`, projectID)
}

func (r *changeLogRepo) list(ctx context.Context, where string, arg int) ([]model.ChangeLog, error) {
	query := `
        SELECT id, task_id, project_id, old_status, new_status, remark, created_at
        FROM change_logs ` + where + `
        ORDER BY created_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query change logs: %w", err)
	}
	defer rows.Close()

	logs := []model.ChangeLog{}
	for rows.Next() {
		var c model.ChangeLog
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.OldStatus, &c.NewStatus, &c.Remark, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change log: %w", err)
		}
		logs = append(logs, c)
	}
	return logs, rows.Err()
}

// FindIDsByReference project_id = projectID 或 task_id ∈ taskIDs
func (r *changeLogRepo) FindIDsByReference(ctx context.Context, projectID *int, taskIDs []int) ([]int, error) {
	if taskIDs == nil {
		taskIDs = []int{}
	}
	rows, err := r.db.Query(ctx, `
        SELECT id FROM change_logs
        WHERE ($1::int IS NOT NULL AND project_id = $1) OR task_id = ANY($2)
        ORDER BY id
    `, projectID, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find change log ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *changeLogRepo) DeleteByIDs(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM change_logs WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete change logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Execer 执行 DDL 所需的最小接口（*pgxpool.Pool / pgx.Tx 均满足）
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id       SERIAL PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password      TEXT NOT NULL,
		first_name    TEXT NOT NULL DEFAULT '',
		last_name     TEXT NOT NULL DEFAULT '',
		roles         TEXT[] NOT NULL DEFAULT ARRAY['user'],
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id          SERIAL PRIMARY KEY,
		name        VARCHAR(200) NOT NULL,
		description VARCHAR(2000) NOT NULL DEFAULT '',
		user_id     INTEGER NOT NULL REFERENCES users(user_id),
		priority    TEXT NOT NULL DEFAULT 'Medium',
		status      TEXT NOT NULL DEFAULT 'In Progress',
		due_date    TIMESTAMPTZ,
		progress    INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		archived    BOOLEAN NOT NULL DEFAULT FALSE,
		archived_at TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((archived AND archived_at IS NOT NULL) OR (NOT archived AND archived_at IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          SERIAL PRIMARY KEY,
		project_id  INTEGER NOT NULL REFERENCES projects(id),
		name        VARCHAR(200) NOT NULL,
		contents    VARCHAR(5000) NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'Todo',
		priority    TEXT NOT NULL DEFAULT 'Medium',
		due_date    TIMESTAMPTZ,
		assignee    VARCHAR(100),
		progress    INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id)`,
	`CREATE TABLE IF NOT EXISTS change_logs (
		id          SERIAL PRIMARY KEY,
		task_id     INTEGER REFERENCES tasks(id),
		project_id  INTEGER REFERENCES projects(id),
		old_status  TEXT NOT NULL,
		new_status  TEXT NOT NULL,
		remark      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (task_id IS NOT NULL OR project_id IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_logs_task_id ON change_logs(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_change_logs_project_id ON change_logs(project_id)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   BIGINT,
		routing_key    TEXT NOT NULL,
		payload        JSONB NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INTEGER NOT NULL DEFAULT 0,
		next_retry_at  TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events(status, next_retry_at)`,
}

// Migrate 按顺序执行建表语句（幂等）
func Migrate(ctx context.Context, db Execer, logger *zap.Logger) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			logger.Error("Migration failed", zap.Int("step", i), zap.Error(err))
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	logger.Info("Database schema is up to date", zap.Int("steps", len(migrations)))
	return nil
}

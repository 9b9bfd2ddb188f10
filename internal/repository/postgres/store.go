// Package postgres implements repository.Store on top of pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhive/internal/repository"
	"taskhive/pkg/outbox"
)

// dbtx *pgxpool.Pool 与 pgx.Tx 的公共子集
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		outbox: outbox.NewRepository(pool),
		logger: logger,
	}
}

func (s *Store) Projects() repository.ProjectRepository {
	return &projectRepo{db: s.pool, logger: s.logger}
}

func (s *Store) Tasks() repository.TaskRepository {
	return &taskRepo{db: s.pool, logger: s.logger}
}

func (s *Store) ChangeLogs() repository.ChangeLogRepository {
	return &changeLogRepo{db: s.pool, logger: s.logger}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepo{db: s.pool, logger: s.logger}
}

// Outbox Dispatcher 与 Replay 使用
func (s *Store) Outbox() *outbox.Repository {
	return s.outbox
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx 在事务中执行 fn；fn 出错或 panic 时由 defer 回滚
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Commit 之后 Rollback 是 no-op
	defer tx.Rollback(ctx)

	if err := fn(&txScope{tx: tx, outbox: s.outbox, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txScope struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	logger *zap.Logger
}

func (t *txScope) Projects() repository.ProjectRepository {
	return &projectRepo{db: t.tx, logger: t.logger}
}

func (t *txScope) Tasks() repository.TaskRepository {
	return &taskRepo{db: t.tx, logger: t.logger}
}

func (t *txScope) ChangeLogs() repository.ChangeLogRepository {
	return &changeLogRepo{db: t.tx, logger: t.logger}
}

func (t *txScope) Events() repository.EventRepository {
	return &eventRepo{tx: t.tx, outbox: t.outbox}
}

type eventRepo struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (r *eventRepo) Append(ctx context.Context, e *outbox.Event) error {
	return r.outbox.InsertEvent(ctx, r.tx, e)
}

// whereBuilder 按顺序拼接条件与占位符
type whereBuilder struct {
	conds []string
	args  []any
}

// add cond 中的 %[1]d 替换为本参数的占位符序号
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// setBuilder UPDATE 的 SET 子句
type setBuilder struct {
	sets []string
	args []any
}

func (s *setBuilder) add(column string, arg any) {
	s.args = append(s.args, arg)
	s.sets = append(s.sets, fmt.Sprintf("%s = $%d", column, len(s.args)))
}

func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

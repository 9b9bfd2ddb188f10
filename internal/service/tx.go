// Package service holds helpers shared by the project and task services.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"taskhive/internal/repository"
	"taskhive/pkg/apperror"
	"taskhive/pkg/logger"
	"taskhive/pkg/metrics"
	"taskhive/pkg/otel"
	"taskhive/pkg/outbox"
)

// RunTx 在事务中执行 fn，记录 span 与事务指标。
// 业务错误原样返回，其余错误包装为 apperror.TransactionError。
func RunTx(ctx context.Context, store repository.Store, log *zap.Logger, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, span := otel.StartSpan(ctx, "tx."+op)

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(ctx, tx)
	})
	err = apperror.WrapTx(op, err)

	metrics.RecordTransaction(op, err)
	otel.EndSpan(span, err)
	if apperror.IsTransaction(err) {
		logger.WithTrace(ctx, log).Error("Transaction rolled back", zap.String("op", op), zap.Error(err))
	}
	return err
}

// AppendEvent 构造 outbox 事件并写入当前事务
func AppendEvent(ctx context.Context, tx repository.Tx, aggregate string, id int, routingKey string, payload any) error {
	event, err := outbox.NewEvent(aggregate, id, routingKey, payload)
	if err != nil {
		return err
	}
	if err := tx.Events().Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", routingKey, err)
	}
	return nil
}

// NotFound 将 repository.ErrNotFound 转为 apperror.NotFoundError
func NotFound(err error, entity string, id int) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound(entity, id)
	}
	return err
}

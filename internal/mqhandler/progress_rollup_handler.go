package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "taskhive/contracts/mq"
	"taskhive/pkg/apperror"
	"taskhive/pkg/logger"
	"taskhive/pkg/mq"
	"taskhive/pkg/util"
)

const rollupHandlerName = "progress_rollup"

// ProgressRecalculator *project.Service 满足
type ProgressRecalculator interface {
	RecalculateProgress(ctx context.Context, projectID int) (int, error)
}

// Deduper *util.Deduper 满足
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, eventID int64) bool
	Release(ctx context.Context, handler string, eventID int64)
}

// RetryCounter *util.RetryCounter 满足
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// ProgressRollupHandler 任务事件到达后重新计算所属项目的进度
type ProgressRollupHandler struct {
	projects   ProgressRecalculator
	deduper    Deduper
	retries    RetryCounter
	maxRetries int64
	logger     *zap.Logger
}

func NewProgressRollupHandler(
	projects ProgressRecalculator,
	deduper Deduper,
	retries RetryCounter,
	maxRetries int64,
	logger *zap.Logger,
) *ProgressRollupHandler {
	return &ProgressRollupHandler{
		projects:   projects,
		deduper:    deduper,
		retries:    retries,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Handle 返回 nil 时 ack；mq.Permanent 转入死信队列；其他错误重新入队
func (h *ProgressRollupHandler) Handle(ctx context.Context, d mq.Delivery) error {
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.ID),
	)

	eventID, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return mq.Permanent(fmt.Errorf("invalid message id %q: %w", d.ID, err))
	}

	var p mqcontracts.TaskEventPayload
	if err := json.Unmarshal(d.Body, &p); err != nil {
		log.Error("Failed to unmarshal task event payload (non-retryable)", zap.Error(err))
		return mq.Permanent(err)
	}

	if !h.deduper.AcquireOnce(ctx, rollupHandlerName, eventID) {
		return nil
	}

	projectIDs := []int{p.ProjectID}
	if p.FromProjectID > 0 && p.FromProjectID != p.ProjectID {
		projectIDs = append(projectIDs, p.FromProjectID)
	}

	for _, projectID := range projectIDs {
		progress, err := h.projects.RecalculateProgress(ctx, projectID)
		if err == nil {
			log.Info("Project progress recalculated",
				zap.Int("project_id", projectID),
				zap.Int("progress", progress),
			)
			continue
		}
		if apperror.IsNotFound(err) {
			// 项目已删除，没有需要更新的进度
			log.Info("Project gone, skipping roll-up", zap.Int("project_id", projectID))
			continue
		}
		return h.fail(ctx, log, eventID, projectID, err)
	}

	if err := h.retries.Reset(ctx, util.FormatRetryKey(rollupHandlerName, eventID)); err != nil {
		log.Warn("Failed to reset retry counter", zap.Error(err))
	}
	return nil
}

func (h *ProgressRollupHandler) fail(ctx context.Context, log *zap.Logger, eventID int64, projectID int, err error) error {
	// 释放去重锁，重新投递后才能再次处理
	h.deduper.Release(ctx, rollupHandlerName, eventID)

	retryable, errType := util.IsRetryableError(err)
	log = log.With(
		zap.Int("project_id", projectID),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	if !retryable {
		log.Error("Progress roll-up failed (non-retryable)")
		return mq.Permanent(err)
	}

	count, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey(rollupHandlerName, eventID))
	if cerr != nil {
		log.Warn("Retry counter unavailable, requeueing", zap.NamedError("counter_error", cerr))
		return err
	}
	if !util.ShouldRetry(count, h.maxRetries, retryable) {
		log.Error("Progress roll-up retries exhausted", zap.Int64("retry_count", count))
		return mq.Permanent(fmt.Errorf("retries exhausted after %d attempts: %w", count, err))
	}

	log.Warn("Progress roll-up failed, will retry", zap.Int64("retry_count", count))
	return err
}

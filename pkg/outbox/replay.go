package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 管理接口重放失败事件
type ReplayService struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
}

func NewReplayService(store Store, publisher Publisher, maxRetries int, logger *zap.Logger) *ReplayService {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &ReplayService{store: store, publisher: publisher, maxRetries: maxRetries, logger: logger}
}

// ReplayEvent 立即重新发布指定事件，成功后标记为 sent
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if err := s.store.ResetEvent(ctx, eventID); err != nil {
		return err
	}

	if err := publishEvent(ctx, s.publisher, event); err != nil {
		if markErr := s.store.MarkAsFailed(ctx, eventID, s.maxRetries); markErr != nil {
			return fmt.Errorf("failed to publish and mark as failed: %w (mark error: %v)", err, markErr)
		}
		return fmt.Errorf("failed to publish: %w", err)
	}

	if err := s.store.MarkAsSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	s.logger.Info("Outbox event replayed", zap.Int64("event_id", eventID), zap.String("routing_key", event.RoutingKey))
	return nil
}

// ReplayFailedEvents 重放所有失败事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}

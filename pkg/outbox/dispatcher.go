package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taskhive/pkg/circuitbreaker"
	"taskhive/pkg/metrics"
	"taskhive/pkg/mq"
	"taskhive/pkg/trace"
)

// Store outbox 表的读写；*Repository 与内存实现都满足
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
	ResetEvent(ctx context.Context, eventID int64) error
}

// Publisher *mq.Publisher 满足
type Publisher interface {
	PublishWithContext(ctx context.Context, msg mq.Message) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithBreaker 替换默认熔断器
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start 阻塞运行，直到 ctx 结束
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPending(ctx)
		}
	}
}

// ProcessPending 处理一批待发送事件，返回成功发布的数量
func (d *Dispatcher) ProcessPending(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		err := d.breaker.Execute(func() error {
			return publishEvent(ctx, d.publisher, event)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			// 熔断期间不消耗重试次数，等待下一轮
			d.logger.Warn("Circuit breaker open, postponing outbox batch", zap.Int("remaining", len(events)-sent))
			metrics.IncrementOutboxPublish(event.RoutingKey, "breaker_open")
			return sent
		}
		if err != nil {
			d.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			metrics.IncrementOutboxPublish(event.RoutingKey, "failed")
			if err := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed", zap.Int64("event_id", event.ID), zap.Error(err))
			}
			continue
		}

		metrics.IncrementOutboxPublish(event.RoutingKey, "sent")
		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event as sent", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func publishEvent(ctx context.Context, publisher Publisher, event *Event) error {
	ctx = traceFromPayload(ctx, event.Payload)
	return publisher.PublishWithContext(ctx, mq.Message{
		ID:         strconv.FormatInt(event.ID, 10),
		RoutingKey: event.RoutingKey,
		Body:       event.Payload,
	})
}

// traceFromPayload 事件 payload 中带有 trace_id 时延续该链路
func traceFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.TraceID != "" {
		ctx = trace.WithContext(ctx, envelope.TraceID)
	}
	return ctx
}

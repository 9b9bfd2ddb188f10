package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhive/internal/repository"
	"taskhive/internal/repository/memory"
	"taskhive/internal/repository/postgres"
	"taskhive/pkg/db"
	"taskhive/pkg/mq"
	"taskhive/pkg/outbox"
)

// backend 业务存储与 outbox 读写，按 store.driver 选择实现
type backend struct {
	store  repository.Store
	outbox outbox.Store
	close  func()
}

func openBackend(ctx context.Context, migrate bool) (*backend, error) {
	switch cfg.Store.Driver {
	case "memory":
		lg.Warn("Using in-memory store, data is lost on exit")
		s := memory.New()
		return &backend{store: s, outbox: s.Outbox(), close: func() {}}, nil
	case "postgres":
		pool, err := openPool(ctx, migrate)
		if err != nil {
			return nil, err
		}
		s := postgres.NewStore(pool, lg)
		return &backend{store: s, outbox: s.Outbox(), close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openPool(ctx context.Context, migrate bool) (*pgxpool.Pool, error) {
	pool, err := db.NewConnection(ctx, cfg.DB, lg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx, pool, lg); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

var errMQUnavailable = errors.New("message broker unavailable")

// offlinePublisher 仅在 memory 模式下 MQ 不可用时使用；事件保持 pending
type offlinePublisher struct{}

func (offlinePublisher) PublishWithContext(context.Context, mq.Message) error {
	return errMQUnavailable
}

// openPublisher memory 模式允许无 MQ 启动，postgres 模式必须连上
func openPublisher() (outbox.Publisher, func(), error) {
	pub, err := mq.NewPublisher(cfg.MQ.URL)
	if err == nil {
		lg.Info("MQ publisher connected")
		return pub, pub.Close, nil
	}
	if cfg.Store.Driver == "memory" {
		lg.Warn("MQ publisher unavailable, outbox events stay pending", zap.Error(err))
		return offlinePublisher{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("failed to init publisher: %w", err)
}

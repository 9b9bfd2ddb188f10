package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mqcontracts "taskhive/contracts/mq"
	"taskhive/internal/mqhandler"
	"taskhive/internal/service/project"
	"taskhive/pkg/mq"
	"taskhive/pkg/otel"
	redisclient "taskhive/pkg/redis"
	"taskhive/pkg/util"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume task events and roll project progress up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx)
	},
}

func runWorker(ctx context.Context) error {
	lg.Info("Starting worker...")

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.Otel.ServiceName + "-worker",
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, lg)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	rdb, err := redisclient.NewClient(ctx, cfg.Redis, lg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	be, err := openBackend(ctx, false)
	if err != nil {
		return err
	}
	defer be.close()

	rollup := mqhandler.NewProgressRollupHandler(
		project.NewService(be.store, lg),
		util.NewDeduper(rdb, cfg.Redis.DedupTTL, lg),
		util.NewRetryCounter(rdb, cfg.Redis.DedupTTL),
		cfg.MQ.MaxRetries,
		lg,
	)

	lg.Info("Initializing progress roll-up consumer", zap.String("queue", cfg.MQ.Queue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Queue, mqcontracts.ProgressRollupKeys, lg)
	if err != nil {
		return err
	}
	defer consumer.Close()
	consumer.SetHandler(rollup.Handle)

	lg.Info("Worker is ready to process messages")
	return consumer.StartConsuming(ctx)
}

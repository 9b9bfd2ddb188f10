package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskhive/internal/handler"
	"taskhive/internal/httpserver"
	"taskhive/internal/service/auth"
	"taskhive/internal/service/project"
	"taskhive/internal/service/task"
	"taskhive/pkg/circuitbreaker"
	"taskhive/pkg/otel"
	"taskhive/pkg/outbox"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the outbox dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply the schema before serving")
}

func runServe(ctx context.Context) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.Otel.ServiceName,
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, lg)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	be, err := openBackend(ctx, serveMigrate)
	if err != nil {
		return err
	}
	defer be.close()

	publisher, closePublisher, err := openPublisher()
	if err != nil {
		return err
	}
	defer closePublisher()

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(),
		circuitbreaker.OnStateChange(func(from, to circuitbreaker.State) {
			lg.Warn("Outbox publisher breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
	dispatcher := outbox.NewDispatcher(be.outbox, publisher, lg).
		WithMaxRetries(cfg.Outbox.MaxRetries).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithBreaker(breaker)
	replay := outbox.NewReplayService(be.outbox, publisher, cfg.Outbox.MaxRetries, lg)

	h := httpserver.Handlers{
		Auth:    handler.NewAuthHandler(auth.NewService(be.store.Users(), cfg.JWT.Secret, cfg.JWT.TTL, cfg.Auth.AdminEmails, lg), lg),
		Project: handler.NewProjectHandler(project.NewService(be.store, lg), lg),
		Task:    handler.NewTaskHandler(task.NewService(be.store, lg), lg),
		Admin:   handler.NewAdminHandler(replay, lg),
	}
	srv := httpserver.NewRouter(h, cfg.JWT.Secret, be.store, lg,
		httpserver.WithCORS(cfg.Server.AllowOrigins),
	).Server(cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		lg.Info("HTTP server listening", zap.String("addr", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

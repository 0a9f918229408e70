package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/recital-box-office/internal/app"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/jobs"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/queue"
)

func main() {
	log := logger.New(logger.Options{ServiceName: "worker"})

	cfg, err := config.Load()
	if err != nil {
		log.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	log = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.WarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to bootstrap", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error(context.Background(), "error closing resources", err)
		}
	}()
	if a.Redis == nil {
		log.Error(ctx, "redis is required for the job queue", errors.New("redis unreachable"))
		os.Exit(1)
	}

	go a.SeatBus.Run(ctx)

	mux := asynq.NewServeMux()
	jobs.NewHandlers(jobs.Deps{
		Seats:     a.Inventory,
		Links:     a.Links,
		AccessLog: a.AccessLogs,
		Retention: cfg.Jobs.AccessLogRetention,
		Metrics:   a.JobMetrics,
		Log:       log,
	}).Register(mux)

	redisOpt := cfg.Redis.AsynqRedisOpt()
	srv := jobs.NewServer(redisOpt, cfg.Jobs.Concurrency, log)
	if err := srv.Start(mux); err != nil {
		log.Error(ctx, "failed to start job server", err)
		os.Exit(1)
	}
	defer srv.Shutdown()

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := jobs.Schedule(scheduler, cfg.Jobs); err != nil {
		log.Error(ctx, "failed to register schedules", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error(ctx, "failed to start scheduler", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	consumer := queue.NewConsumer(cfg.RabbitMQ.URL, a.Notifier.HandleOrderConfirmed, log)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "order consumer stopped", err)
		}
	}()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.App.MetricsPort,
		Handler:           promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server stopped", err)
		}
	}()

	log.Info(log.WithField(ctx, "env", cfg.App.Env), "worker started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info(context.Background(), "worker stopping")
}

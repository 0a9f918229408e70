package jobs

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/recital-box-office/internal/logger"
)

// NewServer builds the asynq worker that consumes the maintenance queue.
func NewServer(opt asynq.RedisClientOpt, concurrency int, log *logger.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueMaintenance: 1},
		Logger:      asynqLogger{log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.Error(log.WithField(ctx, "task", t.Type()), "task failed", err)
		}),
	})
}

// NewScheduler builds the periodic scheduler logging through log.
func NewScheduler(opt asynq.RedisClientOpt, log *logger.Logger) *asynq.Scheduler {
	return asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: asynqLogger{log: log}})
}

// asynqLogger routes asynq's own messages into the structured log.
type asynqLogger struct {
	log *logger.Logger
}

func (a asynqLogger) Debug(args ...interface{}) {
	a.log.Debug(context.Background(), fmt.Sprint(args...))
}

func (a asynqLogger) Info(args ...interface{}) {
	a.log.Info(context.Background(), fmt.Sprint(args...))
}

func (a asynqLogger) Warn(args ...interface{}) {
	a.log.Warn(context.Background(), fmt.Sprint(args...))
}

func (a asynqLogger) Error(args ...interface{}) {
	a.log.Error(context.Background(), fmt.Sprint(args...), nil)
}

func (a asynqLogger) Fatal(args ...interface{}) {
	a.log.Error(context.Background(), fmt.Sprint(args...), nil)
	os.Exit(1)
}

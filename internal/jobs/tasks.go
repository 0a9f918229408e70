// Package jobs runs the periodic maintenance work on asynq: releasing
// stale seat locks, expiring unpaid payment links and pruning the access
// log.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"

	"github.com/iliyamo/recital-box-office/internal/config"
)

const (
	TypeSeatSweep      = "seats:sweep_expired"
	TypeLinkCleanup    = "payment_links:cleanup"
	TypeAccessLogPrune = "access_logs:prune"
)

// QueueMaintenance is the asynq queue all maintenance tasks run on.
const QueueMaintenance = "maintenance"

// PrunePayload lets a one-off prune override the configured retention.
type PrunePayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

func NewSeatSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSeatSweep, nil, taskOptions(50*time.Second)...)
}

func NewLinkCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeLinkCleanup, nil, taskOptions(10*time.Minute)...)
}

func NewAccessLogPruneTask(p PrunePayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAccessLogPrune, body, taskOptions(30*time.Minute)...), nil
}

// A missed run is picked up by the next tick, so tasks are not retried.
func taskOptions(timeout time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	}
}

// Entry is one periodic registration.
type Entry struct {
	Spec string
	Task *asynq.Task
}

// Entries lists the periodic tasks with their cron specs.
func Entries(cfg config.JobsConfig) ([]Entry, error) {
	prune, err := NewAccessLogPruneTask(PrunePayload{})
	if err != nil {
		return nil, err
	}
	return []Entry{
		{Spec: cfg.SeatSweepSpec, Task: NewSeatSweepTask()},
		{Spec: cfg.LinkCleanupSpec, Task: NewLinkCleanupTask()},
		{Spec: cfg.AccessLogPruneSpec, Task: prune},
	}, nil
}

// Registrar is satisfied by *asynq.Scheduler.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// Schedule registers every periodic task and reports all failed
// registrations together.
func Schedule(s Registrar, cfg config.JobsConfig) error {
	entries, err := Entries(cfg)
	if err != nil {
		return err
	}
	var errs error
	for _, e := range entries {
		if _, err := s.Register(e.Spec, e.Task); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("register %s (%q): %w", e.Task.Type(), e.Spec, err))
		}
	}
	return errs
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/metrics"
)

type SeatSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type LinkCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

type AccessLogPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps wires the maintenance handlers.
type Deps struct {
	Seats     SeatSweeper
	Links     LinkCleaner
	AccessLog AccessLogPruner
	Retention time.Duration
	Metrics   *metrics.JobMetrics
	Now       func() time.Time
	Log       *logger.Logger
}

type Handlers struct {
	seats     SeatSweeper
	links     LinkCleaner
	accessLog AccessLogPruner
	retention time.Duration
	metrics   *metrics.JobMetrics
	now       func() time.Time
	log       *logger.Logger
}

func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		seats:     d.Seats,
		links:     d.Links,
		accessLog: d.AccessLog,
		retention: d.Retention,
		metrics:   d.Metrics,
		now:       d.Now,
		log:       d.Log,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = logger.Nop()
	}
	if h.retention <= 0 {
		h.retention = 90 * 24 * time.Hour
	}
	return h
}

// Register mounts the handlers on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSeatSweep, h.HandleSeatSweep)
	mux.HandleFunc(TypeLinkCleanup, h.HandleLinkCleanup)
	mux.HandleFunc(TypeAccessLogPrune, h.HandleAccessLogPrune)
}

func (h *Handlers) HandleSeatSweep(ctx context.Context, _ *asynq.Task) error {
	return h.run(ctx, "seat_sweep", h.seats.SweepExpired)
}

func (h *Handlers) HandleLinkCleanup(ctx context.Context, _ *asynq.Task) error {
	return h.run(ctx, "link_cleanup", h.links.CleanupExpired)
}

func (h *Handlers) HandleAccessLogPrune(ctx context.Context, t *asynq.Task) error {
	var p PrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode prune payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	retention := h.retention
	if p.RetentionHours > 0 {
		retention = time.Duration(p.RetentionHours) * time.Hour
	}
	return h.run(ctx, "access_log_prune", func(ctx context.Context) (int, error) {
		cutoff := h.now().Add(-retention).UTC()
		n, err := h.accessLog.DeleteOlderThan(ctx, cutoff)
		return int(n), err
	})
}

// run times fn and records its outcome. Partial progress is counted even
// when fn also reports errors.
func (h *Handlers) run(ctx context.Context, job string, fn func(context.Context) (int, error)) error {
	ctx = h.log.WithField(ctx, "job", job)
	start := h.now()
	n, err := fn(ctx)
	h.metrics.ObserveDuration(job, h.now().Sub(start))
	h.metrics.AddAffected(job, n)
	if err != nil {
		h.metrics.IncFailure(job)
		h.log.Error(h.log.WithField(ctx, "affected", n), "job failed", err)
		return err
	}
	h.metrics.IncSuccess(job)
	h.log.Debug(h.log.WithField(ctx, "affected", n), "job finished")
	return nil
}

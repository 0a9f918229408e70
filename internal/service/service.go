// Package service holds the box-office flows: seat inventory, checkout,
// access codes, payment links and webhook reconciliation. Services take
// repositories and external clients through small interfaces and receive
// the caller identity as an explicit auth.Principal.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
)

// Mailer sends customer mail and operational alerts.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
	Alert(ctx context.Context, subject, body string) error
}

// OrderEvents hands confirmed orders to the worker.
type OrderEvents interface {
	PublishOrderConfirmed(ctx context.Context, ev queue.OrderConfirmedEvent) error
}

// SeatEvents receives seat state changes. Publish must not block.
type SeatEvents interface {
	Publish(ev queue.SeatEvent)
}

// AccessLogStore is the append-only audit trail.
type AccessLogStore interface {
	Append(ctx context.Context, e model.AccessLog) error
	ListByPaymentLink(ctx context.Context, linkID uint64, limit int) ([]model.AccessLog, error)
	ListByAccessCode(ctx context.Context, code string, limit int) ([]model.AccessLog, error)
}

type discardSeatEvents struct{}

func (discardSeatEvents) Publish(queue.SeatEvent) {}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func loggerOrNop(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}

// alerter raises operational alerts: a counter always, a mail when a
// mailer is configured.
type alerter struct {
	mail    Mailer
	metrics *metrics.FlowMetrics
	log     *logger.Logger
}

func (a alerter) raise(ctx context.Context, kind, subject, body string) {
	a.metrics.Alert(kind)
	a.log.Warn(a.log.WithFields(ctx, map[string]any{"alert": kind, "alert_subject": subject}), body)
	if a.mail == nil {
		return
	}
	if err := a.mail.Alert(ctx, subject, body); err != nil {
		a.log.Error(ctx, "sending alert mail failed", err)
	}
}

// auditor appends access-log rows. A failed append is logged and never
// fails the calling flow.
type auditor struct {
	store AccessLogStore
	now   func() time.Time
	log   *logger.Logger
}

func (a auditor) record(ctx context.Context, entry model.AccessLog, meta auth.RequestMeta) {
	if a.store == nil {
		return
	}
	entry.IPAddress = meta.IP
	entry.UserAgent = meta.UserAgent
	entry.AccessedAt = a.now().UTC()
	if meta.RequestID != "" {
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		entry.Details["request_id"] = meta.RequestID
	}
	if err := a.store.Append(ctx, entry); err != nil {
		a.log.Error(a.log.WithField(ctx, "action", string(entry.Action)), "access log append failed", err)
	}
}

// enforce counts one hit against p and turns a rejection into RateLimited.
func enforce(ctx context.Context, l *ratelimit.Limiter, p ratelimit.Policy, subject string) error {
	d, err := l.Allow(ctx, p, subject)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "rate limit")
	}
	if !d.Allowed {
		return apperr.New(apperr.CodeRateLimited, "too many requests").
			WithDetails(map[string]any{"retryAfterSeconds": int(d.RetryAfter.Seconds())})
	}
	return nil
}

func u64(v uint64) *uint64 { return &v }

func str(v string) *string { return &v }

package service

import (
	"context"
	"errors"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/cache"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/payment"
)

const webhookScope = "stripe_event"

// webhookMeta marks access-log rows written on behalf of the processor.
var webhookMeta = auth.RequestMeta{IP: "stripe-webhook", UserAgent: "stripe"}

// WebhookDeps wires a WebhookReconciler. Secret is the endpoint signing secret.
type WebhookDeps struct {
	Links   PaymentLinkService
	Guard   *cache.IdempotencyGuard
	Secret  string
	Log     *logger.Logger
	Metrics *metrics.FlowMetrics
}

// WebhookReconciler applies verified processor events to payment links.
// Each event id is processed at most once while its guard key lives.
type WebhookReconciler struct {
	links   PaymentLinkService
	guard   *cache.IdempotencyGuard
	secret  string
	log     *logger.Logger
	metrics *metrics.FlowMetrics
}

func NewWebhookReconciler(d WebhookDeps) *WebhookReconciler {
	return &WebhookReconciler{
		links:   d.Links,
		guard:   d.Guard,
		secret:  d.Secret,
		log:     loggerOrNop(d.Log),
		metrics: d.Metrics,
	}
}

// Verify checks the signature and decodes the event. Only a failed
// verification is an error; a verified event that cannot be decoded is
// returned with ok=false.
func (r *WebhookReconciler) Verify(ctx context.Context, payload []byte, signature string) (payment.Event, bool, error) {
	ev, err := payment.ParseWebhook(payload, signature, r.secret)
	if errors.Is(err, payment.ErrUnverified) {
		r.metrics.Webhook("unknown", "unverified")
		return payment.Event{}, false, apperr.Wrap(apperr.CodeValidation, err, "invalid webhook signature")
	}
	if err != nil {
		r.metrics.Webhook(ev.Type, "undecodable")
		r.log.Error(r.log.WithField(ctx, "event_id", ev.ID), "webhook payload could not be decoded", err)
		return ev, false, nil
	}
	return ev, true, nil
}

// Handle processes a verified event. The returned error is for logging;
// the HTTP response is 200 regardless.
func (r *WebhookReconciler) Handle(ctx context.Context, ev payment.Event) error {
	ctx = r.log.WithFields(ctx, map[string]any{"event_id": ev.ID, "event_type": ev.Type})

	first, err := r.guard.Claim(ctx, webhookScope, ev.ID)
	if err != nil {
		r.log.Warn(r.log.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
		first = true
	}
	if !first {
		r.metrics.Webhook(ev.Type, "duplicate")
		r.log.Info(ctx, "webhook event already processed")
		return nil
	}

	err = r.dispatch(ctx, ev)
	switch {
	case err == nil:
		r.metrics.Webhook(ev.Type, "processed")
		return nil
	case apperr.Is(err, apperr.CodeNotFound):
		r.metrics.Webhook(ev.Type, "ignored")
		r.log.Info(ctx, "webhook event has no matching payment link")
		return nil
	default:
		r.metrics.Webhook(ev.Type, "failed")
		r.log.Error(ctx, "webhook processing failed", err)
		if rerr := r.guard.Release(ctx, webhookScope, ev.ID); rerr != nil {
			r.log.Warn(r.log.WithField(ctx, "error", rerr.Error()), "releasing webhook guard failed")
		}
		return err
	}
}

func (r *WebhookReconciler) dispatch(ctx context.Context, ev payment.Event) error {
	switch ev.Type {
	case payment.EventIntentSucceeded:
		res, err := r.links.CompleteFromIntent(ctx, ev.Intent, webhookMeta)
		if err != nil {
			return err
		}
		if !res.AlreadyCompleted {
			r.log.Info(r.log.WithField(ctx, "order_id", res.OrderID), "payment link completed by webhook")
		}
		return nil
	case payment.EventIntentFailed:
		return r.links.RecordIntentFailure(ctx, ev.Intent, webhookMeta)
	case payment.EventIntentCanceled:
		return r.links.RecordIntentCanceled(ctx, ev.Intent, ev.CancellationReason, webhookMeta)
	default:
		r.log.Debug(ctx, "webhook event type not handled")
		return nil
	}
}

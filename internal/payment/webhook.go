package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// ErrUnverified is returned when a webhook payload fails signature
// verification.
var ErrUnverified = errors.New("webhook signature verification failed")

// Webhook event types the reconciler acts on.
const (
	EventIntentSucceeded = string(stripe.EventTypePaymentIntentSucceeded)
	EventIntentFailed    = string(stripe.EventTypePaymentIntentPaymentFailed)
	EventIntentCanceled  = string(stripe.EventTypePaymentIntentCanceled)
)

// Event is a verified processor notification about a payment intent.
type Event struct {
	ID     string
	Type   string
	Intent Intent
	// CancellationReason is set for canceled intents.
	CancellationReason string
}

// ParseWebhook verifies the Stripe-Signature header against secret and
// decodes the payment intent carried by the event. Events that are not
// about payment intents are returned with an empty Intent.
func ParseWebhook(payload []byte, signature, secret string) (Event, error) {
	if signature == "" || secret == "" {
		return Event{}, ErrUnverified
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	out := Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		if ev.Data == nil {
			return out, errors.New("payment intent event without data")
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Intent = intentFrom(&pi)
		out.CancellationReason = string(pi.CancellationReason)
	}
	return out, nil
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentLinkStatus string

const (
	LinkPending    PaymentLinkStatus = "pending"
	LinkProcessing PaymentLinkStatus = "processing"
	LinkCompleted  PaymentLinkStatus = "completed"
	LinkExpired    PaymentLinkStatus = "expired"
	LinkFailed     PaymentLinkStatus = "failed"
)

// PaymentLink is a one-time offer to buy digital access out of band.
//
//	pending    -> processing (payment initiated)
//	processing -> completed  (provider confirms success)
//	pending    -> expired    (cleanup or cancel)
//	processing -> failed | expired
//
// A link past ExpiresAt never moves to processing or completed.
type PaymentLink struct {
	ID                    uint64            // payment_links.id
	Token                 string            // payment_links.token (unique)
	CustomerEmail         string            // payment_links.customer_email
	CustomerName          string            // payment_links.customer_name
	Amount                decimal.Decimal   // payment_links.amount
	Status                PaymentLinkStatus // payment_links.status
	ExpiresAt             time.Time         // payment_links.expires_at
	StripePaymentIntentID *string           // payment_links.stripe_payment_intent_id
	OrderID               *uint64           // payment_links.order_id
	CreatedBy             *uint64           // payment_links.created_by
	Metadata              map[string]any    // payment_links.metadata (JSON)
	CreatedAt             time.Time         // payment_links.created_at
	UpdatedAt             time.Time         // payment_links.updated_at
}

// ExpiredAt reports whether the link's validity has lapsed at now.
func (l PaymentLink) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

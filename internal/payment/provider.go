// Package payment talks to the card processor: one-shot charges for seat
// checkout, payment intents for payment links, and webhook verification.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDeclined is returned when the processor refused the card. Any other
// error from a Provider means the processor could not be reached or
// answered unexpectedly.
var ErrDeclined = errors.New("payment declined")

// Intent statuses the services branch on.
const (
	IntentSucceeded  = "succeeded"
	IntentCanceled   = "canceled"
	IntentProcessing = "processing"
)

// ChargeRequest charges a tokenised card immediately.
type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Token          string
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

type Charge struct {
	ID     string
	Status string
}

// IntentRequest opens a payment intent the browser confirms later.
type IntentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
}

type Intent struct {
	ID           string
	Status       string
	ClientSecret string
	Amount       decimal.Decimal
	Metadata     map[string]string
	FailureCode  string
	FailureMsg   string
}

func (i Intent) Succeeded() bool { return i.Status == IntentSucceeded }

// Provider is the processor surface used by the order and payment-link
// services.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	CancelIntent(ctx context.Context, id string) error
}

// toMinorUnits converts a currency amount to cents.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

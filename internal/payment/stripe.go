package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

var errSecretKeyRequired = errors.New("stripe secret key is required")

// StripeProvider implements Provider with the Stripe payment intents API.
// Checkout charges are intents created and confirmed in one call with the
// card token as payment method.
type StripeProvider struct {
	log *logger.Logger
}

// NewStripeProvider sets the process-wide Stripe key.
func NewStripeProvider(ctx context.Context, cfg config.StripeConfig, log *logger.Logger) (*StripeProvider, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errSecretKeyRequired
	}
	stripe.Key = key
	if log == nil {
		log = logger.Nop()
	}
	mode := "live"
	if strings.HasPrefix(key, "sk_test_") {
		mode = "test"
	}
	log.Info(ctx, fmt.Sprintf("stripe provider initialized (%s)", mode))
	return &StripeProvider{log: log}, nil
}

func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.Token),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return Charge{}, classify(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		// 3-D Secure and other follow-up actions are not supported at the
		// seat checkout; release the intent so no funds stay on hold.
		if _, cerr := paymentintent.Cancel(pi.ID, &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}); cerr != nil {
			p.log.Warn(p.log.WithFields(ctx, map[string]any{"payment_intent_id": pi.ID, "error": cerr.Error()}), "cancel unconfirmed intent failed")
		}
		return Charge{ID: pi.ID, Status: string(pi.Status)}, fmt.Errorf("%w: intent status %s", ErrDeclined, pi.Status)
	}
	return Charge{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, classify(err)
	}
	return intentFrom(pi), nil
}

func (p *StripeProvider) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return Intent{}, classify(err)
	}
	return intentFrom(pi), nil
}

func (p *StripeProvider) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(id, params)
	return classify(err)
}

func intentFrom(pi *stripe.PaymentIntent) Intent {
	in := Intent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinorUnits(pi.Amount),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		in.FailureCode = string(pi.LastPaymentError.Code)
		in.FailureMsg = pi.LastPaymentError.Msg
	}
	return in
}

// classify maps card errors to ErrDeclined and leaves other errors intact.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("%w: %s", ErrDeclined, se.Code)
	}
	return err
}

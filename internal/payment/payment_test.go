package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

const testSecret = "whsec_test"

func signedPayload(t *testing.T, evType stripe.EventType, pi *stripe.PaymentIntent) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(pi)
	require.NoError(t, err)
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_1",
		Type:       evType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	})
	require.NoError(t, err)
	return payload, signatureHeader(payload, testSecret, time.Now().Unix())
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhookSucceededIntent(t *testing.T) {
	payload, header := signedPayload(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   2000,
		Metadata: map[string]string{"payment_link_token": "tok-1"},
	})

	ev, err := ParseWebhook(payload, header, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventIntentSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.Intent.ID)
	assert.True(t, ev.Intent.Succeeded())
	assert.True(t, ev.Intent.Amount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, "tok-1", ev.Intent.Metadata["payment_link_token"])
}

func TestParseWebhookCanceledIntent(t *testing.T) {
	payload, header := signedPayload(t, stripe.EventTypePaymentIntentCanceled, &stripe.PaymentIntent{
		ID:                 "pi_1",
		Status:             stripe.PaymentIntentStatusCanceled,
		CancellationReason: stripe.PaymentIntentCancellationReasonAbandoned,
	})
	ev, err := ParseWebhook(payload, header, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "abandoned", ev.CancellationReason)
}

func TestParseWebhookAcceptsOlderAccountAPIVersion(t *testing.T) {
	raw, err := json.Marshal(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusSucceeded, Amount: 500})
	require.NoError(t, err)
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_2",
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: "2020-08-27",
		Data:       &stripe.EventData{Raw: raw},
	})
	require.NoError(t, err)

	ev, err := ParseWebhook(payload, signatureHeader(payload, testSecret, time.Now().Unix()), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "pi_2", ev.Intent.ID)

	stale := signatureHeader(payload, testSecret, time.Now().Add(-time.Hour).Unix())
	_, err = ParseWebhook(payload, stale, testSecret)
	assert.True(t, errors.Is(err, ErrUnverified), "signature tolerance still applies")
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	payload, _ := signedPayload(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: "pi_1"})

	_, err := ParseWebhook(payload, "t=1,v1=deadbeef", testSecret)
	assert.True(t, errors.Is(err, ErrUnverified))

	_, err = ParseWebhook(payload, "", testSecret)
	assert.True(t, errors.Is(err, ErrUnverified))

	_, err = ParseWebhook(payload, signatureHeader(payload, "whsec_other", time.Now().Unix()), testSecret)
	assert.True(t, errors.Is(err, ErrUnverified))
}

func TestMinorUnits(t *testing.T) {
	assert.EqualValues(t, 6900, toMinorUnits(decimal.RequireFromString("69")))
	assert.EqualValues(t, 1999, toMinorUnits(decimal.RequireFromString("19.99")))
	assert.True(t, fromMinorUnits(2050).Equal(decimal.RequireFromString("20.50")))
}

func TestClassifyCardError(t *testing.T) {
	err := classify(&stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined})
	assert.True(t, errors.Is(err, ErrDeclined))

	err = classify(&stripe.Error{Type: stripe.ErrorTypeAPI})
	assert.False(t, errors.Is(err, ErrDeclined))
	assert.NoError(t, classify(nil))
}

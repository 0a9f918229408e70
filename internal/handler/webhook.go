package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/payment"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBody = 1 << 16

// WebhookProcessor verifies and applies processor events.
type WebhookProcessor interface {
	Verify(ctx context.Context, payload []byte, signature string) (payment.Event, bool, error)
	Handle(ctx context.Context, ev payment.Event) error
}

type WebhookHandler struct {
	processor WebhookProcessor
	log       *logger.Logger
}

func NewWebhookHandler(p WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{processor: p, log: log}
}

// Stripe handles POST /v1/stripe/webhook. Only an unverifiable request is
// rejected; processing failures are logged and acknowledged so the
// processor does not retry forever.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "VALIDATION_ERROR", Message: "unreadable body"})
	}
	ctx := c.Request().Context()
	ev, ok, err := h.processor.Verify(ctx, payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if ok {
		// Errors are logged by the processor.
		_ = h.processor.Handle(ctx, ev)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/payment"
	"github.com/iliyamo/recital-box-office/internal/service"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = HTTPErrorHandler(nil)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"validation shows message", apperr.New(apperr.CodeValidation, "seats must not be empty"), 400, "VALIDATION_ERROR", "seats must not be empty"},
		{"amount mismatch shows message", apperr.New(apperr.CodeAmountMismatch, "expected 69.00"), 400, "AMOUNT_MISMATCH", "expected 69.00"},
		{"not found hides message", apperr.New(apperr.CodeNotFound, "order 7 missing"), 404, "NOT_FOUND", "resource not found"},
		{"expired link", apperr.New(apperr.CodeExpired, "expired at noon"), 410, "EXPIRED", "link has expired"},
		{"untyped becomes internal", errors.New("driver: bad connection"), 500, "INTERNAL_ERROR", "internal server error"},
		{"dependency", apperr.Wrap(apperr.CodeDependency, errors.New("dial"), "stripe down"), 503, "DEPENDENCY_ERROR", "dependency unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho()
			e.GET("/x", func(c echo.Context) error { return writeError(c, nil, tt.err) })

			rec, body := do(t, e, http.MethodGet, "/x", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.wantMsg, body["message"])
		})
	}
}

func TestWriteErrorRateLimitedSetsRetryAfter(t *testing.T) {
	e := newTestEcho()
	e.GET("/x", func(c echo.Context) error {
		return writeError(c, nil, apperr.New(apperr.CodeRateLimited, "access_code").
			WithDetails(map[string]any{"retryAfterSeconds": 42}))
	})

	rec, body := do(t, e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests, try again later", body["message"])
	assert.Equal(t, float64(42), body["details"].(map[string]any)["retryAfterSeconds"])
}

func TestWriteErrorPartialFailureKeepsDetails(t *testing.T) {
	e := newTestEcho()
	e.GET("/x", func(c echo.Context) error {
		return writeError(c, nil, apperr.New(apperr.CodePartialFailure, "seat 12 lost").
			WithDetails(map[string]any{"orderId": 9, "failedSeats": []uint64{12}}))
	})

	rec, body := do(t, e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PARTIAL_FAILURE_AFTER_CHARGE", body["error"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(9), details["orderId"])
}

func TestHTTPErrorHandlerUnknownRoute(t *testing.T) {
	e := newTestEcho()
	rec, body := do(t, e, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

type fakeCodes struct {
	service.AccessCodeService
	validateErr error
	recital     model.RecitalType
	lastCode    string
}

func (f *fakeCodes) Validate(_ context.Context, code string, _ auth.RequestMeta) (service.Entitlement, error) {
	f.lastCode = code
	if f.validateErr != nil {
		return service.Entitlement{}, f.validateErr
	}
	return service.Entitlement{RecitalType: f.recital}, nil
}

func TestValidateAccessCode(t *testing.T) {
	t.Run("valid code returns recital type", func(t *testing.T) {
		codes := &fakeCodes{recital: model.RecitalMorning}
		e := newTestEcho()
		e.POST("/v", NewAccessCodeHandler(codes, nil).Validate)

		rec, body := do(t, e, http.MethodPost, "/v", `{"accessCode":"DVL-2025-AB12"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "morning", body["recitalType"])
		assert.Equal(t, "DVL-2025-AB12", codes.lastCode)
	})

	t.Run("unknown and ineligible look the same", func(t *testing.T) {
		var bodies []string
		for _, code := range []apperr.Code{apperr.CodeNotFound, apperr.CodeNotEligible} {
			e := newTestEcho()
			e.POST("/v", NewAccessCodeHandler(&fakeCodes{validateErr: apperr.New(code, "detail")}, nil).Validate)

			rec, body := do(t, e, http.MethodPost, "/v", `{"accessCode":"DVL-2025-AB13"}`)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, false, body["valid"])
			bodies = append(bodies, rec.Body.String())
		}
		assert.Equal(t, bodies[0], bodies[1])
	})

	t.Run("pending media is not ready", func(t *testing.T) {
		e := newTestEcho()
		e.POST("/v", NewAccessCodeHandler(&fakeCodes{validateErr: apperr.New(apperr.CodeNotReady, "pending")}, nil).Validate)

		rec, body := do(t, e, http.MethodPost, "/v", `{"accessCode":"DVL-2025-AB12"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "NOT_READY", body["error"])
	})

	t.Run("rate limited passes through", func(t *testing.T) {
		e := newTestEcho()
		err := apperr.New(apperr.CodeRateLimited, "access_code").WithDetails(map[string]any{"retryAfterSeconds": 60})
		e.POST("/v", NewAccessCodeHandler(&fakeCodes{validateErr: err}, nil).Validate)

		rec, _ := do(t, e, http.MethodPost, "/v", `{"accessCode":"DVL-2025-AB12"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("missing code fails validation", func(t *testing.T) {
		e := newTestEcho()
		e.POST("/v", NewAccessCodeHandler(&fakeCodes{}, nil).Validate)

		rec, body := do(t, e, http.MethodPost, "/v", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", body["error"])
		fields := body["details"].(map[string]any)["fields"].(map[string]any)
		assert.Equal(t, "required", fields["accessCode"])
	})
}

type fakeProcessor struct {
	verifyErr error
	verified  bool
	handleErr error
	handled   []payment.Event
	signature string
}

func (f *fakeProcessor) Verify(_ context.Context, _ []byte, signature string) (payment.Event, bool, error) {
	f.signature = signature
	if f.verifyErr != nil {
		return payment.Event{}, false, f.verifyErr
	}
	return payment.Event{ID: "evt_1", Type: "payment_intent.succeeded"}, f.verified, nil
}

func (f *fakeProcessor) Handle(_ context.Context, ev payment.Event) error {
	f.handled = append(f.handled, ev)
	return f.handleErr
}

func TestStripeWebhook(t *testing.T) {
	post := func(t *testing.T, p *fakeProcessor) (*httptest.ResponseRecorder, map[string]any) {
		e := newTestEcho()
		e.POST("/wh", NewWebhookHandler(p, nil).Stripe)
		req := httptest.NewRequest(http.MethodPost, "/wh", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	t.Run("bad signature is rejected", func(t *testing.T) {
		p := &fakeProcessor{verifyErr: apperr.New(apperr.CodeValidation, "invalid signature")}
		rec, body := post(t, p)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", body["error"])
		assert.Equal(t, "t=1,v1=abc", p.signature)
		assert.Empty(t, p.handled)
	})

	t.Run("unusable event is acknowledged without handling", func(t *testing.T) {
		p := &fakeProcessor{verified: false}
		rec, body := post(t, p)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["received"])
		assert.Empty(t, p.handled)
	})

	t.Run("processing failure still acknowledges", func(t *testing.T) {
		p := &fakeProcessor{verified: true, handleErr: errors.New("db down")}
		rec, _ := post(t, p)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, p.handled, 1)
		assert.Equal(t, "evt_1", p.handled[0].ID)
	})
}

type fakeInventory struct {
	service.SeatInventory
	toggled []bool
	seatIDs []uint64
	err     error
}

func (f *fakeInventory) Toggle(_ context.Context, seatID uint64, reserve bool, _ auth.Principal) (model.Seat, error) {
	f.seatIDs = append(f.seatIDs, seatID)
	f.toggled = append(f.toggled, reserve)
	if f.err != nil {
		return model.Seat{}, f.err
	}
	return model.Seat{ID: seatID, EventID: 1, Section: "ORCH", RowLabel: "A", SeatNumber: 15, IsAvailable: true, IsReserved: reserve}, nil
}

func TestReserveSeat(t *testing.T) {
	t.Run("reserve", func(t *testing.T) {
		inv := &fakeInventory{}
		e := newTestEcho()
		e.POST("/seats/:id/reserve", NewSeatHandler(inv, nil).Reserve)

		rec, body := do(t, e, http.MethodPost, "/seats/15/reserve", `{"isReserved":true}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []uint64{15}, inv.seatIDs)
		assert.Equal(t, []bool{true}, inv.toggled)
		assert.Equal(t, true, body["seat"].(map[string]any)["isReserved"])
	})

	t.Run("flag is required", func(t *testing.T) {
		inv := &fakeInventory{}
		e := newTestEcho()
		e.POST("/seats/:id/reserve", NewSeatHandler(inv, nil).Reserve)

		rec, _ := do(t, e, http.MethodPost, "/seats/15/reserve", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, inv.toggled)
	})

	t.Run("bad id", func(t *testing.T) {
		e := newTestEcho()
		e.POST("/seats/:id/reserve", NewSeatHandler(&fakeInventory{}, nil).Reserve)

		rec, _ := do(t, e, http.MethodPost, "/seats/abc/reserve", `{"isReserved":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("held by someone else", func(t *testing.T) {
		inv := &fakeInventory{err: apperr.New(apperr.CodeConflict, "seat is held by another customer")}
		e := newTestEcho()
		e.POST("/seats/:id/reserve", NewSeatHandler(inv, nil).Reserve)

		rec, body := do(t, e, http.MethodPost, "/seats/15/reserve", `{"isReserved":true}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CONFLICT", body["error"])
	})
}

type fakeOrders struct {
	service.OrderOrchestrator
	got service.CheckoutRequest
	err error
}

func (f *fakeOrders) CreateOrder(_ context.Context, _ auth.Principal, req service.CheckoutRequest) (model.Order, error) {
	f.got = req
	if f.err != nil {
		return model.Order{}, f.err
	}
	return model.Order{ID: 5, Status: model.OrderCompleted, TotalAmount: req.DeclaredAmount}, nil
}

func TestCheckout(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		orders := &fakeOrders{}
		e := newTestEcho()
		e.POST("/orders/payment", NewOrderHandler(orders, &fakeCodes{}, nil).Checkout)

		rec, body := do(t, e, http.MethodPost, "/orders/payment",
			`{"amount":"69.00","token":"tok_visa","seats":[1,2],"dvds":1,"digitalDownloads":1}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, []uint64{1, 2}, orders.got.SeatIDs)
		assert.Equal(t, 1, orders.got.DVDs)
		assert.Equal(t, 1, orders.got.Digital)
		assert.Equal(t, "69", orders.got.DeclaredAmount.String())
		assert.NotNil(t, body["order"])
	})

	t.Run("amount mismatch", func(t *testing.T) {
		orders := &fakeOrders{err: apperr.New(apperr.CodeAmountMismatch, "declared 70.00, expected 69.00")}
		e := newTestEcho()
		e.POST("/orders/payment", NewOrderHandler(orders, &fakeCodes{}, nil).Checkout)

		rec, body := do(t, e, http.MethodPost, "/orders/payment", `{"amount":"70.00","token":"tok_visa","seats":[1]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AMOUNT_MISMATCH", body["error"])
		assert.Equal(t, "declared 70.00, expected 69.00", body["message"])
	})

	t.Run("token required", func(t *testing.T) {
		orders := &fakeOrders{}
		e := newTestEcho()
		e.POST("/orders/payment", NewOrderHandler(orders, &fakeCodes{}, nil).Checkout)

		rec, _ := do(t, e, http.MethodPost, "/orders/payment", `{"amount":"18.00","seats":[1]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, orders.got.SeatIDs)
	})
}

func TestHealth(t *testing.T) {
	e := newTestEcho()
	e.GET("/ok", Health(map[string]Check{"mysql": func(context.Context) error { return nil }}))
	e.GET("/bad", Health(map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}))

	rec, body := do(t, e, http.MethodGet, "/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = do(t, e, http.MethodGet, "/bad", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

func (f *fakeInventory) EventMetrics(_ context.Context, eventID uint64, _ auth.Principal) (model.EventStats, error) {
	if f.err != nil {
		return model.EventStats{}, f.err
	}
	return model.EventStats{EventID: eventID, TotalSeats: 200, SoldSeats: 120, HeldSeats: 5, AvailableSeats: 75, TicketsSold: 120, Orders: 48}, nil
}

func TestEventMetrics(t *testing.T) {
	e := newTestEcho()
	e.GET("/events/:id/metrics", NewSeatHandler(&fakeInventory{}, nil).EventMetrics)

	rec, body := do(t, e, http.MethodGet, "/events/2/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["eventId"])
	assert.EqualValues(t, 75, body["availableSeats"])
	assert.EqualValues(t, 5, body["heldSeats"])

	e = newTestEcho()
	e.GET("/events/:id/metrics", NewSeatHandler(&fakeInventory{err: apperr.New(apperr.CodeForbidden, "admin only")}, nil).EventMetrics)
	rec, _ = do(t, e, http.MethodGet, "/events/2/metrics", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type fakeEarlyAccess struct {
	kinds  []string
	events []uint64
	err    error
}

func (f *fakeEarlyAccess) Verify(_ context.Context, kind, _ string, _ auth.RequestMeta) error {
	f.kinds = append(f.kinds, kind)
	return f.err
}

func (f *fakeEarlyAccess) VerifyForEvent(_ context.Context, eventID uint64, _ string, _ auth.RequestMeta) error {
	f.events = append(f.events, eventID)
	return f.err
}

func TestEarlyAccess(t *testing.T) {
	t.Run("passphrase accepted", func(t *testing.T) {
		ea := &fakeEarlyAccess{}
		e := newTestEcho()
		e.POST("/early-access/verify", NewEarlyAccessHandler(ea, nil).Verify)

		rec, body := do(t, e, http.MethodPost, "/early-access/verify", `{"type":"morning","passphrase":"pirouette"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["accessGranted"])
		assert.Equal(t, []string{"morning"}, ea.kinds)
	})

	t.Run("passphrase required", func(t *testing.T) {
		ea := &fakeEarlyAccess{}
		e := newTestEcho()
		e.POST("/early-access/verify", NewEarlyAccessHandler(ea, nil).Verify)

		rec, _ := do(t, e, http.MethodPost, "/early-access/verify", `{"type":"morning"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ea.kinds)
	})

	t.Run("wrong presale passcode", func(t *testing.T) {
		ea := &fakeEarlyAccess{err: apperr.New(apperr.CodeUnauthorized, "incorrect passphrase")}
		e := newTestEcho()
		e.POST("/events/:id/presale/verify", NewEarlyAccessHandler(ea, nil).VerifyPresale)

		rec, _ := do(t, e, http.MethodPost, "/events/3/presale/verify", `{"passcode":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, []uint64{3}, ea.events)
	})
}

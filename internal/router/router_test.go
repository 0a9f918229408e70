package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/handler"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/service"
)

type stubInventory struct {
	service.SeatInventory
	released []uint64
}

func (s *stubInventory) ListEvents(context.Context) ([]model.Event, error) {
	return []model.Event{{ID: 1, Title: "Morning", RecitalType: model.RecitalMorning}}, nil
}

func (s *stubInventory) Release(_ context.Context, seatID uint64, _ auth.Principal) (model.Seat, error) {
	s.released = append(s.released, seatID)
	return model.Seat{ID: seatID}, nil
}

func (s *stubInventory) EventMetrics(_ context.Context, eventID uint64, _ auth.Principal) (model.EventStats, error) {
	return model.EventStats{EventID: eventID}, nil
}

func setup(t *testing.T) (*echo.Echo, *auth.Issuer, *stubInventory) {
	t.Helper()
	issuer := auth.NewIssuer("router-secret", 15*time.Minute, time.Hour, time.Now)
	inv := &stubInventory{}

	e := echo.New()
	e.HTTPErrorHandler = handler.HTTPErrorHandler(nil)
	Register(e, Handlers{
		Auth:        handler.NewAuthHandler(nil, nil),
		Seats:       handler.NewSeatHandler(inv, nil),
		Orders:      handler.NewOrderHandler(nil, nil, nil),
		AccessCodes: handler.NewAccessCodeHandler(nil, nil),
		Links:       handler.NewPaymentLinkHandler(nil, nil),
		Webhook:     handler.NewWebhookHandler(nil, nil),
		EarlyAccess: handler.NewEarlyAccessHandler(nil, nil),
		Health:      handler.Health(nil),
	}, Options{Issuer: issuer})
	return e, issuer, inv
}

func call(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, issuer *auth.Issuer, role string) string {
	t.Helper()
	tok, err := issuer.IssueAccess(auth.Principal{UserID: 7, Role: role, Email: "u@example.com"})
	require.NoError(t, err)
	return tok.Token
}

func TestPublicRoutesNeedNoToken(t *testing.T) {
	e, _, _ := setup(t)

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/v1/events", "").Code)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/healthz", "").Code)
}

func TestUnknownV1PathIsNotFound(t *testing.T) {
	e, _, _ := setup(t)

	rec := call(e, http.MethodGet, "/v1/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerRoutesRequireToken(t *testing.T) {
	e, _, _ := setup(t)

	for _, path := range []string{"/v1/orders/my-tickets", "/v1/orders/my-media-orders", "/v1/me"} {
		assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodPost, "/v1/seats/3/reserve", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodPost, "/v1/orders/payment", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodPost, "/v1/early-access/verify", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodPost, "/v1/events/1/presale/verify", "").Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	e, issuer, inv := setup(t)
	customer := token(t, issuer, model.RoleCustomer)
	admin := token(t, issuer, model.RoleAdmin)

	adminOnly := []struct{ method, path string }{
		{http.MethodGet, "/v1/payment-links"},
		{http.MethodPost, "/v1/payment-links"},
		{http.MethodGet, "/v1/orders/media"},
		{http.MethodGet, "/v1/orders/total-sales"},
		{http.MethodPost, "/v1/orders/access-codes"},
		{http.MethodGet, "/v1/orders/download-history/DVL-2025-AB12"},
		{http.MethodPost, "/v1/seats/3/release"},
		{http.MethodGet, "/v1/events/1/metrics"},
	}
	for _, r := range adminOnly {
		assert.Equal(t, http.StatusUnauthorized, call(e, r.method, r.path, "").Code, r.path)
		assert.Equal(t, http.StatusForbidden, call(e, r.method, r.path, customer).Code, r.path)
	}

	rec := call(e, http.MethodPost, "/v1/seats/3/release", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{3}, inv.released)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/v1/events/1/metrics", admin).Code)
}

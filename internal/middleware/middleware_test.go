package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/cache"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/model"
)

func newIssuer() *auth.Issuer {
	return auth.NewIssuer("secret", 15*time.Minute, time.Hour, time.Now)
}

func bearer(t *testing.T, issuer *auth.Issuer, p auth.Principal) string {
	t.Helper()
	tok, err := issuer.IssueAccess(p)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func serve(e *echo.Echo, method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	issuer := newIssuer()
	e := echo.New()
	g := e.Group("/v1", JWTAuth(issuer, logger.Nop()))
	g.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"id": Principal(c).UserID})
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole(model.RoleAdmin))

	rec := serve(e, http.MethodGet, "/v1/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	rec = serve(e, http.MethodGet, "/v1/me", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	customer := bearer(t, issuer, auth.Principal{UserID: 7, Role: model.RoleCustomer, Email: "a@example.com"})
	rec = serve(e, http.MethodGet, "/v1/me", customer)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":7}`, rec.Body.String())

	rec = serve(e, http.MethodGet, "/v1/admin", customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := bearer(t, issuer, auth.Principal{UserID: 1, Role: model.RoleAdmin})
	rec = serve(e, http.MethodGet, "/v1/admin", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDAndMeta(t *testing.T) {
	e := echo.New()
	e.Use(RequestID(logger.Nop()), RequestLogger(logger.Nop()))
	var meta auth.RequestMeta
	e.GET("/", func(c echo.Context) error {
		meta = Meta(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	req.Header.Set("User-Agent", "recital-test")
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, auth.RequestMeta{IP: "203.0.113.9", UserAgent: "recital-test", RequestID: "abc-123"}, meta)

	rec = serve(e, http.MethodGet, "/", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "a missing id is minted")
}

func TestResponseCache(t *testing.T) {
	store := cache.NewMemoryStore(time.Now)
	cfg := config.CacheConfig{
		Enabled:      true,
		Methods:      []string{"GET"},
		TTL:          time.Minute,
		Prefix:       "cache",
		MaxBodyBytes: 1 << 20,
	}
	calls := 0
	e := echo.New()
	e.GET("/v1/events/:id/seats", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"event": c.Param("id"), "calls": calls})
	}, ResponseCache(cfg, store, nil))
	e.GET("/v1/missing", func(c echo.Context) error {
		calls++
		return c.NoContent(http.StatusNotFound)
	}, ResponseCache(cfg, store, nil))

	first := serve(e, http.MethodGet, "/v1/events/1/seats", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := serve(e, http.MethodGet, "/v1/events/1/seats", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)

	other := serve(e, http.MethodGet, "/v1/events/2/seats", "")
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)

	serve(e, http.MethodGet, "/v1/missing", "")
	serve(e, http.MethodGet, "/v1/missing", "")
	assert.Equal(t, 4, calls, "only 200 responses are cached")
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/", "").Code)
}

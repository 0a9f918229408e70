package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/ratelimit"
)

func fromAddr(e *echo.Echo, remote, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set(echo.HeaderXForwardedFor, xff)
		req.Header.Set(echo.HeaderXRealIP, xff)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIPExtractorIgnoresForwardedHeadersByDefault(t *testing.T) {
	extract, err := IPExtractor(nil)
	require.NoError(t, err)

	e := echo.New()
	e.IPExtractor = extract
	var seen []string
	e.GET("/", func(c echo.Context) error {
		seen = append(seen, Meta(c).IP)
		return c.NoContent(http.StatusOK)
	})

	fromAddr(e, "198.51.100.7:4242", "203.0.113.1")
	fromAddr(e, "198.51.100.7:4243", "203.0.113.2, 10.0.0.1")
	assert.Equal(t, []string{"198.51.100.7", "198.51.100.7"}, seen)
}

func TestIPExtractorTrustsConfiguredProxies(t *testing.T) {
	extract, err := IPExtractor([]string{"10.0.0.0/8", " 192.0.2.10 "})
	require.NoError(t, err)

	e := echo.New()
	e.IPExtractor = extract
	var ip string
	e.GET("/", func(c echo.Context) error {
		ip = Meta(c).IP
		return c.NoContent(http.StatusOK)
	})

	fromAddr(e, "10.1.2.3:80", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", ip)

	fromAddr(e, "192.0.2.10:80", "203.0.113.6, 10.4.4.4")
	assert.Equal(t, "203.0.113.6", ip)

	fromAddr(e, "198.51.100.7:80", "203.0.113.7")
	assert.Equal(t, "198.51.100.7", ip, "an untrusted peer cannot forward")

	_, err = IPExtractor([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestSpoofedForwardedForDoesNotResetPerIPCap(t *testing.T) {
	extract, err := IPExtractor(nil)
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(time.Now), "test", nil)
	policy := ratelimit.Policy{Name: "access_code", Limit: 1, Window: time.Hour}

	e := echo.New()
	e.IPExtractor = extract
	e.GET("/", func(c echo.Context) error {
		d, err := limiter.Allow(c.Request().Context(), policy, Meta(c).IP)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return c.NoContent(http.StatusTooManyRequests)
		}
		return c.NoContent(http.StatusOK)
	})

	allowed := 0
	for i := 0; i < 10; i++ {
		rec := fromAddr(e, "198.51.100.7:5000", fmt.Sprintf("203.0.113.%d", i+1))
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

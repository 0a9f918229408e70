package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/logger"
)

// RequestLogger logs one line per request with its status and latency.
// It runs after RequestID so the line carries the request id.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			ctx := log.WithFields(c.Request().Context(), map[string]any{
				"method":      c.Request().Method,
				"route":       c.Path(),
				"path":        c.Request().URL.Path,
				"status":      statusOf(c, err),
				"duration_ms": time.Since(start).Milliseconds(),
				"ip":          c.RealIP(),
			})
			if err != nil {
				log.Warn(log.WithField(ctx, "error", err.Error()), "request.complete")
			} else {
				log.Info(ctx, "request.complete")
			}
			return err
		}
	}
}

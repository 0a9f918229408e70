package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

const (
	principalKey    = "principal"
	requestIDKey    = "request_id"
	RequestIDHeader = "X-Request-Id"
)

// Principal returns the caller stored by JWTAuth, or the anonymous zero
// value on public routes.
func Principal(c echo.Context) auth.Principal {
	if p, ok := c.Get(principalKey).(auth.Principal); ok {
		return p
	}
	return auth.Principal{}
}

// Meta collects the request facts recorded in the access log.
func Meta(c echo.Context) auth.RequestMeta {
	id, _ := c.Get(requestIDKey).(string)
	return auth.RequestMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		RequestID: id,
	}
}

// RequestID propagates or mints a request id and attaches it to the
// request's log context.
func RequestID(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			c.Set(requestIDKey, id)
			c.Response().Header().Set(RequestIDHeader, id)
			if log != nil {
				ctx := log.WithRequestID(c.Request().Context(), id)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// deny writes the error body shared with the handlers.
func deny(c echo.Context, code apperr.Code) error {
	meta := apperr.MetadataFor(code)
	return c.JSON(meta.HTTPStatus, echo.Map{"error": string(code), "message": meta.PublicMessage})
}

func subject(c echo.Context) string {
	if p := Principal(c); p.Authenticated() {
		return uintString(p.UserID)
	}
	return "anon"
}

func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if typed := apperr.As(err); typed != nil {
		return apperr.MetadataFor(typed.Code()).HTTPStatus
	}
	return http.StatusInternalServerError
}

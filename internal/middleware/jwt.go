package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

// JWTAuth validates the Bearer access token and stores the caller as an
// auth.Principal for Principal(c).
func JWTAuth(issuer *auth.Issuer, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return deny(c, apperr.CodeUnauthorized)
			}
			p, err := issuer.ParseAccess(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				return deny(c, apperr.CodeUnauthorized)
			}
			c.Set(principalKey, p)
			if log != nil {
				c.SetRequest(c.Request().WithContext(log.WithUserID(c.Request().Context(), p.UserID)))
			}
			return next(c)
		}
	}
}

// OptionalJWT stores the principal when a valid Bearer token is present and
// lets anonymous requests through unchanged.
func OptionalJWT(issuer *auth.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if strings.HasPrefix(header, "Bearer ") {
				if p, err := issuer.ParseAccess(strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))); err == nil {
					c.Set(principalKey, p)
				}
			}
			return next(c)
		}
	}
}

package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/apperr"
)

// RequireRole admits callers whose principal carries one of roles. It must
// run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal(c)
			if !p.Authenticated() {
				return deny(c, apperr.CodeUnauthorized)
			}
			if !allowed[p.Role] {
				return deny(c, apperr.CodeForbidden)
			}
			return next(c)
		}
	}
}

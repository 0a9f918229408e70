package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeError maps err onto its HTTP status and public body. Untyped errors
// and 5xx codes are logged; their messages never reach the client.
func writeError(c echo.Context, log *logger.Logger, err error) error {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	code := typed.Code()
	meta := apperr.MetadataFor(code)

	body := errorBody{Error: string(code), Message: meta.PublicMessage}
	if meta.DetailsAllowed {
		body.Message = typed.Message()
		body.Details = typed.Details()
	}
	switch code {
	case apperr.CodeRateLimited:
		body.Details = typed.Details()
		if d, ok := typed.Details().(map[string]any); ok {
			if secs, ok := d["retryAfterSeconds"].(int); ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	case apperr.CodePartialFailure:
		body.Details = typed.Details()
	}

	if meta.HTTPStatus >= http.StatusInternalServerError && log != nil {
		log.Error(c.Request().Context(), "request failed", err)
	}
	return c.JSON(meta.HTTPStatus, body)
}

// HTTPErrorHandler renders errors that escape handlers, such as unknown
// routes and bad methods, in the same body shape.
func HTTPErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok {
				msg = m
			}
			_ = c.JSON(he.Code, errorBody{Error: httpCode(he.Code), Message: msg})
			return
		}
		_ = writeError(c, log, err)
	}
}

func httpCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return string(apperr.CodeNotFound)
	case http.StatusUnauthorized:
		return string(apperr.CodeUnauthorized)
	case http.StatusForbidden:
		return string(apperr.CodeForbidden)
	case http.StatusTooManyRequests:
		return string(apperr.CodeRateLimited)
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return string(apperr.CodeValidation)
	}
	return string(apperr.CodeInternal)
}

package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
)

// EarlyAccessChecker verifies pre-sale passphrases.
type EarlyAccessChecker interface {
	Verify(ctx context.Context, kind, passphrase string, meta auth.RequestMeta) error
	VerifyForEvent(ctx context.Context, eventID uint64, passcode string, meta auth.RequestMeta) error
}

// EarlyAccessHandler serves the pre-sale passphrase checks.
type EarlyAccessHandler struct {
	checker EarlyAccessChecker
	log     *logger.Logger
}

func NewEarlyAccessHandler(checker EarlyAccessChecker, log *logger.Logger) *EarlyAccessHandler {
	return &EarlyAccessHandler{checker: checker, log: log}
}

type earlyAccessReq struct {
	Type       string `json:"type" validate:"required,max=32"`
	Passphrase string `json:"passphrase" validate:"required,max=128"`
}

type presaleReq struct {
	Passcode string `json:"passcode" validate:"required,max=128"`
}

// Verify handles POST /v1/early-access/verify.
func (h *EarlyAccessHandler) Verify(c echo.Context) error {
	var req earlyAccessReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.checker.Verify(c.Request().Context(), req.Type, req.Passphrase, middleware.Meta(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"accessGranted": true})
}

// VerifyPresale handles POST /v1/events/:id/presale/verify.
func (h *EarlyAccessHandler) VerifyPresale(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req presaleReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.checker.VerifyForEvent(c.Request().Context(), eventID, req.Passcode, middleware.Meta(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

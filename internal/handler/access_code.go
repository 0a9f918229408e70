package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/service"
)

const invalidCodeMessage = "invalid or ineligible access code"

// AccessCodeHandler serves the public video-access endpoints.
type AccessCodeHandler struct {
	codes service.AccessCodeService
	log   *logger.Logger
}

func NewAccessCodeHandler(codes service.AccessCodeService, log *logger.Logger) *AccessCodeHandler {
	return &AccessCodeHandler{codes: codes, log: log}
}

type validateCodeReq struct {
	AccessCode string `json:"accessCode" validate:"required,max=32"`
}

type videoURLsReq struct {
	AccessCode string `json:"accessCode" validate:"required,max=32"`
	VideoType  string `json:"videoType" validate:"omitempty,oneof=full morning evening"`
}

// Validate handles POST /v1/orders/validate-access-code.
func (h *AccessCodeHandler) Validate(c echo.Context) error {
	var req validateCodeReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	ent, err := h.codes.Validate(c.Request().Context(), req.AccessCode, middleware.Meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "recitalType": ent.RecitalType})
}

// VideoURLs handles POST /v1/orders/video-urls.
func (h *AccessCodeHandler) VideoURLs(c echo.Context) error {
	var req videoURLsReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	urls, err := h.codes.IssueVideoURLs(c.Request().Context(), req.AccessCode, req.VideoType, middleware.Meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, urls)
}

// fail gives unknown and ineligible codes one answer so that codes cannot
// be probed.
func (h *AccessCodeHandler) fail(c echo.Context, err error) error {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound, apperr.CodeNotEligible:
		return c.JSON(http.StatusUnauthorized, echo.Map{
			"valid":   false,
			"error":   string(apperr.CodeUnauthorized),
			"message": invalidCodeMessage,
		})
	case apperr.CodeNotReady:
		return c.JSON(http.StatusBadRequest, echo.Map{
			"valid":   false,
			"error":   string(apperr.CodeNotReady),
			"message": apperr.MetadataFor(apperr.CodeNotReady).PublicMessage,
		})
	}
	return writeError(c, h.log, err)
}

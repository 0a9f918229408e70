package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/service"
)

// PaymentLinkHandler serves the customer purchase page calls and the admin
// link management screens.
type PaymentLinkHandler struct {
	links service.PaymentLinkService
	log   *logger.Logger
}

func NewPaymentLinkHandler(links service.PaymentLinkService, log *logger.Logger) *PaymentLinkHandler {
	return &PaymentLinkHandler{links: links, log: log}
}

type tokenReq struct {
	Token string `json:"token" validate:"required,max=64"`
}

type completeReq struct {
	Token           string `json:"token" validate:"required,max=64"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required,max=255"`
}

type createLinkReq struct {
	CustomerEmail string           `json:"customerEmail" validate:"required,email,max=255"`
	CustomerName  string           `json:"customerName" validate:"required,max=255"`
	Amount        *decimal.Decimal `json:"amount"`
	ExpiryDays    int              `json:"expiryDays" validate:"gte=0"`
	SendEmail     bool             `json:"sendEmail"`
}

// Validate handles GET /v1/payment-links/validate/:token.
func (h *PaymentLinkHandler) Validate(c echo.Context) error {
	view, err := h.links.Validate(c.Request().Context(), c.Param("token"), middleware.Meta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// InitiatePayment handles POST /v1/payment-links/initiate-payment.
func (h *PaymentLinkHandler) InitiatePayment(c echo.Context) error {
	var req tokenReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	started, err := h.links.InitiatePayment(c.Request().Context(), req.Token, middleware.Meta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, started)
}

// CompletePayment handles POST /v1/payment-links/complete-payment. Calling
// it again returns the same access code.
func (h *PaymentLinkHandler) CompletePayment(c echo.Context) error {
	var req completeReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	done, err := h.links.CompletePayment(c.Request().Context(), req.Token, req.PaymentIntentID, middleware.Meta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, done)
}

// Create handles POST /v1/payment-links.
func (h *PaymentLinkHandler) Create(c echo.Context) error {
	var req createLinkReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	created, err := h.links.Create(c.Request().Context(), middleware.Principal(c), service.CreateLinkInput{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Amount:        req.Amount,
		ExpiryDays:    req.ExpiryDays,
		SendEmail:     req.SendEmail,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"link":      toLink(created.Link),
		"url":       created.URL,
		"emailSent": created.EmailSent,
	})
}

// List handles GET /v1/payment-links?status=&limit=&offset=.
func (h *PaymentLinkHandler) List(c echo.Context) error {
	links, err := h.links.List(c.Request().Context(), middleware.Principal(c),
		model.PaymentLinkStatus(c.QueryParam("status")), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]linkResp, 0, len(links))
	for _, l := range links {
		out = append(out, toLink(l))
	}
	return c.JSON(http.StatusOK, echo.Map{"links": out})
}

// Status handles GET /v1/payment-links/:id/status.
func (h *PaymentLinkHandler) Status(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	st, err := h.links.Status(c.Request().Context(), middleware.Principal(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"link": toLink(st.Link),
		"url":  st.URL,
		"logs": toAccessLogs(st.Logs),
	})
}

// Cancel handles POST /v1/payment-links/:id/cancel.
func (h *PaymentLinkHandler) Cancel(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	link, err := h.links.Cancel(c.Request().Context(), middleware.Principal(c), id, middleware.Meta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"link": toLink(link)})
}

// Resend handles POST /v1/payment-links/:id/resend.
func (h *PaymentLinkHandler) Resend(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.links.Resend(c.Request().Context(), middleware.Principal(c), id, middleware.Meta(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sent": true})
}

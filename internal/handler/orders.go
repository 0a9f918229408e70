package handler

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/service"
)

// OrderHandler serves checkout, the customer's purchase history and the
// admin media-order screens.
type OrderHandler struct {
	orders service.OrderOrchestrator
	codes  service.AccessCodeService
	log    *logger.Logger
}

func NewOrderHandler(orders service.OrderOrchestrator, codes service.AccessCodeService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, codes: codes, log: log}
}

type checkoutReq struct {
	Amount           decimal.Decimal `json:"amount"`
	Token            string          `json:"token" validate:"required"`
	Seats            []uint64        `json:"seats" validate:"max=50,dive,gt=0"`
	DVDs             int             `json:"dvds" validate:"gte=0,lte=20"`
	DigitalDownloads int             `json:"digitalDownloads" validate:"gte=0,lte=20"`
	PrintInfo        json.RawMessage `json:"printInfo"`
	Email            string          `json:"email" validate:"omitempty,email,max=255"`
	Name             string          `json:"name" validate:"max=255"`
}

// Checkout handles POST /v1/orders/payment.
func (h *OrderHandler) Checkout(c echo.Context) error {
	var req checkoutReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	order, err := h.orders.CreateOrder(c.Request().Context(), middleware.Principal(c), service.CheckoutRequest{
		SeatIDs:        req.Seats,
		DVDs:           req.DVDs,
		Digital:        req.DigitalDownloads,
		DeclaredAmount: req.Amount,
		PaymentToken:   req.Token,
		PrintInfo:      req.PrintInfo,
		Email:          req.Email,
		Name:           req.Name,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"order": toOrder(order)})
}

// MyTickets handles GET /v1/orders/my-tickets.
func (h *OrderHandler) MyTickets(c echo.Context) error {
	tickets, err := h.orders.ListUserTickets(c.Request().Context(), middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]ticketResp, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicket(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": out})
}

// MyMediaOrders handles GET /v1/orders/my-media-orders.
func (h *OrderHandler) MyMediaOrders(c echo.Context) error {
	orders, err := h.orders.ListUserMediaOrders(c.Request().Context(), middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": toOrders(orders)})
}

type accessCodesReq struct {
	OrderIDs []uint64 `json:"orderIds" validate:"required,min=1,max=100,dive,gt=0"`
}

// GenerateAccessCodes handles POST /v1/orders/access-codes. Orders
// that already have a code keep it.
func (h *OrderHandler) GenerateAccessCodes(c echo.Context) error {
	var req accessCodesReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	results, err := h.orders.GenerateAccessCodes(c.Request().Context(), middleware.Principal(c), req.OrderIDs)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": results})
}

type mediaStatusReq struct {
	MediaStatus string  `json:"mediaStatus" validate:"required,oneof=pending fulfilled"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateMediaStatus handles PATCH /v1/orders/:id/media-status.
func (h *OrderHandler) UpdateMediaStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req mediaStatusReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	order, err := h.orders.UpdateMediaStatus(c.Request().Context(), middleware.Principal(c), id, model.MediaStatus(req.MediaStatus), req.Notes)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order": toOrder(order)})
}

// ListMedia handles GET /v1/orders/media?mediaStatus=&limit=&offset=.
func (h *OrderHandler) ListMedia(c echo.Context) error {
	orders, err := h.orders.ListMediaOrders(c.Request().Context(), middleware.Principal(c),
		model.MediaStatus(c.QueryParam("mediaStatus")), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": toOrders(orders)})
}

// TotalSales handles GET /v1/orders/total-sales.
func (h *OrderHandler) TotalSales(c echo.Context) error {
	totals, cached, err := h.orders.SalesTotals(c.Request().Context(), middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"totals": totals, "cached": cached})
}

// DownloadHistory handles GET /v1/orders/download-history/:accessCode.
func (h *OrderHandler) DownloadHistory(c echo.Context) error {
	logs, err := h.codes.DownloadHistory(c.Request().Context(), middleware.Principal(c), c.Param("accessCode"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"accessCode": service.NormalizeCode(c.Param("accessCode")), "history": toAccessLogs(logs)})
}

package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/middleware"
)

type reserveReq struct {
	IsReserved *bool `json:"isReserved" validate:"required"`
}

// Reserve handles POST /v1/seats/:id/reserve. {isReserved:true} takes the
// soft-lock, false gives it back; a seat held by someone else is 409.
func (h *SeatHandler) Reserve(c echo.Context) error {
	seatID, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req reserveReq
	if err := bind(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	seat, err := h.inventory.Toggle(c.Request().Context(), seatID, *req.IsReserved, middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seat": toSeat(seat)})
}

// Release handles POST /v1/seats/:id/release, the staff override for
// a stuck lock.
func (h *SeatHandler) Release(c echo.Context) error {
	seatID, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	seat, err := h.inventory.Release(c.Request().Context(), seatID, middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seat": toSeat(seat)})
}

// EventMetrics handles GET /v1/events/:id/metrics, the staff view of how a
// showtime is selling.
func (h *SeatHandler) EventMetrics(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	stats, err := h.inventory.EventMetrics(c.Request().Context(), eventID, middleware.Principal(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"eventId":        stats.EventID,
		"totalSeats":     stats.TotalSeats,
		"soldSeats":      stats.SoldSeats,
		"heldSeats":      stats.HeldSeats,
		"availableSeats": stats.AvailableSeats,
		"ticketsSold":    stats.TicketsSold,
		"orders":         stats.Orders,
	})
}

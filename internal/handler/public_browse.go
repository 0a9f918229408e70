package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/service"
)

// SeatHandler serves the public event list and seat map, and the seat
// picker's reserve and release calls.
type SeatHandler struct {
	inventory service.SeatInventory
	log       *logger.Logger
}

func NewSeatHandler(inventory service.SeatInventory, log *logger.Logger) *SeatHandler {
	return &SeatHandler{inventory: inventory, log: log}
}

// ListEvents handles GET /v1/events.
func (h *SeatHandler) ListEvents(c echo.Context) error {
	events, err := h.inventory.ListEvents(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]eventResp, 0, len(events))
	for _, e := range events {
		out = append(out, toEvent(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"events": out})
}

// ListSeats handles GET /v1/events/:id/seats. Responses are cached for a
// couple of seconds by the route's middleware.
func (h *SeatHandler) ListSeats(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return writeError(c, h.log, err)
	}
	seats, err := h.inventory.ListSeats(c.Request().Context(), eventID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make([]seatResp, 0, len(seats))
	for _, s := range seats {
		out = append(out, toSeat(s))
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": eventID, "seats": out})
}

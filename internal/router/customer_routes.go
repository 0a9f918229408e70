package router

import "github.com/labstack/echo/v4"

// registerCustomer mounts routes for any signed-in caller.
func registerCustomer(g *echo.Group, h Handlers, mw ...echo.MiddlewareFunc) {
	g.POST("/seats/:id/reserve", h.Seats.Reserve, mw...)
	g.POST("/orders/payment", h.Orders.Checkout, mw...)
	g.GET("/orders/my-tickets", h.Orders.MyTickets, mw...)
	g.GET("/orders/my-media-orders", h.Orders.MyMediaOrders, mw...)

	g.POST("/early-access/verify", h.EarlyAccess.Verify, mw...)
	g.POST("/events/:id/presale/verify", h.EarlyAccess.VerifyPresale, mw...)
}

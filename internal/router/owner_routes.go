package router

import "github.com/labstack/echo/v4"

// registerAdmin mounts staff routes; mw must include the ADMIN role check.
func registerAdmin(g *echo.Group, h Handlers, mw ...echo.MiddlewareFunc) {
	g.POST("/payment-links", h.Links.Create, mw...)
	g.GET("/payment-links", h.Links.List, mw...)
	g.GET("/payment-links/:id/status", h.Links.Status, mw...)
	g.POST("/payment-links/:id/cancel", h.Links.Cancel, mw...)
	g.POST("/payment-links/:id/resend", h.Links.Resend, mw...)

	g.POST("/orders/access-codes", h.Orders.GenerateAccessCodes, mw...)
	g.PATCH("/orders/:id/media-status", h.Orders.UpdateMediaStatus, mw...)
	g.GET("/orders/media", h.Orders.ListMedia, mw...)
	g.GET("/orders/total-sales", h.Orders.TotalSales, mw...)
	g.GET("/orders/download-history/:accessCode", h.Orders.DownloadHistory, mw...)

	g.POST("/seats/:id/release", h.Seats.Release, mw...)
	g.GET("/events/:id/metrics", h.Seats.EventMetrics, mw...)
}

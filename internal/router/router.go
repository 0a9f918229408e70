// Package router wires handlers and middleware onto echo under /v1.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/handler"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/model"
)

// Handlers groups every HTTP handler the API exposes.
type Handlers struct {
	Auth        *handler.AuthHandler
	Seats       *handler.SeatHandler
	Orders      *handler.OrderHandler
	AccessCodes *handler.AccessCodeHandler
	Links       *handler.PaymentLinkHandler
	Webhook     *handler.WebhookHandler
	EarlyAccess *handler.EarlyAccessHandler
	Health      echo.HandlerFunc
	Metrics     http.Handler
}

// Options carries the middleware that differs per route group.
type Options struct {
	Issuer    *auth.Issuer
	SeatCache echo.MiddlewareFunc
}

// Register mounts all routes.
func Register(e *echo.Echo, h Handlers, opts Options) {
	if h.Health != nil {
		e.GET("/healthz", h.Health)
	}
	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics))
	}

	v1 := e.Group("/v1")
	registerPublic(v1, h, opts)
	registerAuth(v1, h, opts.Issuer)

	// JWT runs per route so unknown /v1 paths still answer 404.
	jwt := middleware.JWTAuth(opts.Issuer, nil)
	registerCustomer(v1, h, jwt)
	registerAdmin(v1, h, jwt, middleware.RequireRole(model.RoleAdmin))
}

func registerPublic(g *echo.Group, h Handlers, opts Options) {
	seatCache := opts.SeatCache
	if seatCache == nil {
		seatCache = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g.GET("/events", h.Seats.ListEvents)
	g.GET("/events/:id/seats", h.Seats.ListSeats, seatCache)

	g.POST("/orders/validate-access-code", h.AccessCodes.Validate)
	g.POST("/orders/video-urls", h.AccessCodes.VideoURLs)

	g.GET("/payment-links/validate/:token", h.Links.Validate)
	g.POST("/payment-links/initiate-payment", h.Links.InitiatePayment)
	g.POST("/payment-links/complete-payment", h.Links.CompletePayment)

	g.POST("/stripe/webhook", h.Webhook.Stripe)
}

func registerAuth(g *echo.Group, h Handlers, issuer *auth.Issuer) {
	a := g.Group("/auth")
	a.POST("/register", h.Auth.Register)
	a.POST("/login", h.Auth.Login)
	a.POST("/refresh", h.Auth.Refresh)
	a.POST("/logout", h.Auth.Logout, middleware.OptionalJWT(issuer))
	a.POST("/forgot-password", h.Auth.ForgotPassword)
	a.POST("/reset-password", h.Auth.ResetPassword)

	g.GET("/me", h.Auth.Me, middleware.JWTAuth(issuer, nil))
}

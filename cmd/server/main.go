package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/recital-box-office/internal/app"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/handler"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/middleware"
	"github.com/iliyamo/recital-box-office/internal/router"
)

func main() {
	log := logger.New(logger.Options{ServiceName: "api"})

	cfg, err := config.Load()
	if err != nil {
		log.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	log = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.WarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to bootstrap", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error(context.Background(), "error closing resources", err)
		}
	}()

	go a.SeatBus.Run(ctx)

	e, err := newEcho(a)
	if err != nil {
		log.Error(ctx, "invalid server configuration", err)
		os.Exit(1)
	}
	addr := ":" + cfg.App.Port
	ctx = log.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})
	log.Info(ctx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "api server stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	log.Info(context.Background(), "api server stopped")
}

func newEcho(a *app.App) (*echo.Echo, error) {
	cfg, log := a.Config, a.Log

	extractIP, err := middleware.IPExtractor(cfg.App.TrustedProxies)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractIP
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler(log)

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID(log))
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.App.FrontendURL},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.NewTokenBucket(cfg.RateLimit, a.Redis, log))

	checks := map[string]handler.Check{
		"mysql": a.DB.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	router.Register(e, router.Handlers{
		Auth:        handler.NewAuthHandler(a.Accounts, log),
		Seats:       handler.NewSeatHandler(a.Inventory, log),
		Orders:      handler.NewOrderHandler(a.Checkout, a.Codes, log),
		AccessCodes: handler.NewAccessCodeHandler(a.Codes, log),
		Links:       handler.NewPaymentLinkHandler(a.Links, log),
		Webhook:     handler.NewWebhookHandler(a.Webhooks, log),
		EarlyAccess: handler.NewEarlyAccessHandler(a.Early, log),
		Health:      handler.Health(checks),
		Metrics:     promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
	}, router.Options{
		Issuer:    a.Issuer,
		SeatCache: middleware.ResponseCache(cfg.Cache, a.Store, log),
	})

	for _, r := range e.Routes() {
		log.Debug(context.Background(), fmt.Sprintf("route %s %s", r.Method, r.Path))
	}
	return e, nil
}

// Package app builds the dependency graph shared by the API server and the
// background worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/cache"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/database"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/payment"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
	"github.com/iliyamo/recital-box-office/internal/service"
	"github.com/iliyamo/recital-box-office/internal/storage"
)

const webhookClaimTTL = 72 * time.Hour

// App holds the long-lived clients and services of one process.
type App struct {
	Config   config.Config
	Log      *logger.Logger
	DB       *sql.DB
	Redis    *redis.Client // nil when Redis is unreachable
	Store    cache.Store
	Registry *prometheus.Registry

	Issuer    *auth.Issuer
	Publisher *queue.Publisher
	SeatBus   *queue.SeatEventBus
	Mail      *mailer.Client

	Orders     *repository.OrderRepo
	AccessLogs *repository.AccessLogRepo

	Inventory *service.InventoryService
	Checkout  *service.OrderService
	Codes     *service.AccessCodes
	Links     *service.PaymentLinks
	Webhooks  *service.WebhookReconciler
	Accounts  *service.AccountService
	Early     *service.EarlyAccess
	Notifier  *service.Notifier

	JobMetrics *metrics.JobMetrics
}

// New connects to MySQL and Redis and wires every service. Redis is
// optional: without it the caches and rate limits fall back to process
// memory.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db}

	a.Redis = config.NewRedisClient(cfg.Redis)
	var limitStore ratelimit.Store
	if a.Redis != nil {
		a.Store = cache.NewRedisStore(a.Redis)
		limitStore = ratelimit.NewRedisStore(a.Redis)
	} else {
		log.Warn(ctx, "redis unreachable, using in-memory caches and limits")
		a.Store = cache.NewMemoryStore(time.Now)
		limitStore = ratelimit.NewMemoryStore(time.Now)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flows := metrics.NewFlowMetrics(a.Registry)
	a.JobMetrics = metrics.NewJobMetrics(a.Registry)

	signer, err := storage.NewSigner(cfg.Storage, time.Now)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	provider, err := payment.NewStripeProvider(ctx, cfg.Stripe, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("stripe: %w", err)
	}

	a.Issuer = auth.NewIssuer(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTTLMin)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLDays)*24*time.Hour,
		time.Now)
	a.Publisher = queue.NewPublisher(cfg.RabbitMQ.URL, log)
	a.SeatBus = queue.NewSeatEventBus(cfg.RabbitMQ.SeatEventsBuf, a.Publisher, log)
	a.Mail = mailer.New(cfg.Mail, log)

	a.Orders = repository.NewOrderRepo(db)
	a.AccessLogs = repository.NewAccessLogRepo(db)
	seats := repository.NewSeatRepo(db)
	links := repository.NewPaymentLinkRepo(db)
	events := repository.NewEventRepo(db)

	limiter := ratelimit.New(limitStore, cfg.RateLimit.Prefix, log)
	policies := ratelimit.PoliciesFrom(cfg.RateLimit)
	sales := cache.NewSalesCache(a.Store, cfg.Cache.SalesTTL, time.Now, log)

	a.Inventory = service.NewInventoryService(service.InventoryDeps{
		Seats:   seats,
		Events:  events,
		Bus:     a.SeatBus,
		Window:  cfg.Reservation.Window,
		Now:     time.Now,
		Log:     log,
		Metrics: flows,
	})
	a.Codes = service.NewAccessCodes(service.AccessCodeDeps{
		Orders:   a.Orders,
		Logs:     a.AccessLogs,
		Signer:   signer,
		Limiter:  limiter,
		Policies: policies,
		Now:      time.Now,
		Log:      log,
	})
	a.Checkout = service.NewOrderService(service.OrderDeps{
		Orders:    a.Orders,
		Seats:     seats,
		Inventory: a.Inventory,
		Codes:     a.Codes,
		Provider:  provider,
		Pricing:   service.NewPricing(cfg.Pricing),
		Events:    a.Publisher,
		Sales:     sales,
		Mail:      a.Mail,
		Now:       time.Now,
		Log:       log,
		Metrics:   flows,
	})
	a.Links = service.NewPaymentLinks(service.PaymentLinkDeps{
		Links:       links,
		Orders:      a.Orders,
		Logs:        a.AccessLogs,
		Codes:       a.Codes,
		Provider:    provider,
		Events:      a.Publisher,
		Mail:        a.Mail,
		Sales:       sales,
		Limiter:     limiter,
		Policies:    policies,
		Config:      cfg.PaymentLinks,
		FrontendURL: cfg.App.FrontendURL,
		Currency:    cfg.Pricing.Currency,
		Now:         time.Now,
		Log:         log,
		Metrics:     flows,
	})
	a.Webhooks = service.NewWebhookReconciler(service.WebhookDeps{
		Links:   a.Links,
		Guard:   cache.NewIdempotencyGuard(a.Store, "webhook", webhookClaimTTL),
		Secret:  cfg.Stripe.WebhookSecret,
		Log:     log,
		Metrics: flows,
	})
	a.Accounts = service.NewAccountService(service.AccountDeps{
		Users:       repository.NewUserRepo(db),
		Tokens:      repository.NewTokenRepo(db),
		Resets:      repository.NewPasswordResetRepo(db),
		Issuer:      a.Issuer,
		Mail:        a.Mail,
		Limiter:     limiter,
		ResetPolicy: policies.PasswordReset,
		FrontendURL: cfg.App.FrontendURL,
		ResetTTL:    cfg.Auth.ResetTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
		Now:         time.Now,
		Log:         log,
	})
	a.Early = service.NewEarlyAccess(service.EarlyAccessDeps{
		Config:  cfg.EarlyAccess,
		Events:  events,
		Limiter: limiter,
		Policy:  policies.EarlyAccess,
		Log:     log,
	})
	a.Notifier = service.NewNotifier(a.Mail, a.Orders, log)
	return a, nil
}

// Close releases the broker, Redis and database connections.
func (a *App) Close() error {
	var err error
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		err = multierr.Append(err, a.Redis.Close())
	}
	if a.DB != nil {
		err = multierr.Append(err, a.DB.Close())
	}
	return err
}

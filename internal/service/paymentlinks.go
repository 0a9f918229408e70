package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/cache"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/payment"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

// PaymentLinkService runs the out-of-band digital sale: an admin issues a
// link, the customer opens it, pays, and receives an access code.
type PaymentLinkService interface {
	Create(ctx context.Context, p auth.Principal, in CreateLinkInput) (LinkCreated, error)
	Validate(ctx context.Context, token string, meta auth.RequestMeta) (LinkView, error)
	InitiatePayment(ctx context.Context, token string, meta auth.RequestMeta) (PaymentInit, error)
	CompletePayment(ctx context.Context, token, intentID string, meta auth.RequestMeta) (Completion, error)
	CompleteFromIntent(ctx context.Context, intent payment.Intent, meta auth.RequestMeta) (Completion, error)
	RecordIntentFailure(ctx context.Context, intent payment.Intent, meta auth.RequestMeta) error
	RecordIntentCanceled(ctx context.Context, intent payment.Intent, reason string, meta auth.RequestMeta) error
	Cancel(ctx context.Context, p auth.Principal, id uint64, meta auth.RequestMeta) (model.PaymentLink, error)
	Resend(ctx context.Context, p auth.Principal, id uint64, meta auth.RequestMeta) error
	Status(ctx context.Context, p auth.Principal, id uint64) (LinkStatus, error)
	List(ctx context.Context, p auth.Principal, status model.PaymentLinkStatus, limit, offset int) ([]model.PaymentLink, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// PaymentLinkStore persists payment links. The Mark* methods are
// conditional on the current status and expiry and report whether the row
// changed. CompleteWithOrder inserts the order and completes the link in
// one transaction.
type PaymentLinkStore interface {
	Create(ctx context.Context, l *model.PaymentLink) error
	GetByID(ctx context.Context, id uint64) (model.PaymentLink, error)
	GetByToken(ctx context.Context, token string) (model.PaymentLink, error)
	GetByIntentID(ctx context.Context, intentID string) (model.PaymentLink, error)
	List(ctx context.Context, status model.PaymentLinkStatus, limit, offset int) ([]model.PaymentLink, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.PaymentLink, error)
	MarkProcessing(ctx context.Context, id uint64, intentID string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uint64, metaKey, reason string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint64, reason string, now time.Time) (bool, error)
	SetMetadata(ctx context.Context, id uint64, key string, value any, now time.Time) error
	CompleteWithOrder(ctx context.Context, linkID uint64, o *model.Order, now time.Time) error
}

// LinkOrderStore reads the orders attached to completed links.
type LinkOrderStore interface {
	GetByID(ctx context.Context, id uint64) (model.Order, error)
	GetByStripePaymentID(ctx context.Context, paymentID string) (model.Order, error)
}

const (
	cleanupBatch  = 500
	statusLogSize = 50
	linkMessage   = "Purchase digital access to the recital recordings."
)

// CreateLinkInput is an admin request for a new payment link. Nil Amount
// and zero ExpiryDays take the configured defaults.
type CreateLinkInput struct {
	CustomerEmail string
	CustomerName  string
	Amount        *decimal.Decimal
	ExpiryDays    int
	SendEmail     bool
}

// LinkCreated is returned to the admin who created a link.
type LinkCreated struct {
	Link      model.PaymentLink `json:"link"`
	URL       string            `json:"url"`
	EmailSent bool              `json:"emailSent"`
}

// LinkView is the public face of a link; nothing else leaves the service.
type LinkView struct {
	CustomerName string          `json:"customerName"`
	Amount       decimal.Decimal `json:"amount"`
	Message      string          `json:"message"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// PaymentInit carries what the browser needs to confirm the intent.
type PaymentInit struct {
	ClientSecret    string          `json:"clientSecret"`
	PaymentIntentID string          `json:"paymentIntentId"`
	Amount          decimal.Decimal `json:"amount"`
}

// Completion is the result of completing a link. AlreadyCompleted is set
// when an earlier call or the webhook got there first.
type Completion struct {
	OrderID          uint64 `json:"-"`
	AccessCode       string `json:"accessCode"`
	AlreadyCompleted bool   `json:"alreadyCompleted"`
}

// LinkStatus is the admin view of one link and its recent access log.
type LinkStatus struct {
	Link model.PaymentLink `json:"link"`
	URL  string            `json:"url"`
	Logs []model.AccessLog `json:"logs"`
}

// PaymentLinkDeps wires a PaymentLinks service. Currency defaults to usd;
// Limiter, Events, Mail and Sales may be nil.
type PaymentLinkDeps struct {
	Links       PaymentLinkStore
	Orders      LinkOrderStore
	Logs        AccessLogStore
	Codes       AccessCodeService
	Provider    payment.Provider
	Events      OrderEvents
	Mail        Mailer
	Sales       *cache.SalesCache
	Limiter     *ratelimit.Limiter
	Policies    ratelimit.Policies
	Config      config.PaymentLinkConfig
	FrontendURL string
	Currency    string
	Now         func() time.Time
	Log         *logger.Logger
	Metrics     *metrics.FlowMetrics
}

// PaymentLinks runs the payment-link lifecycle: pending, processing,
// then completed, failed or expired. A link is completed at most once and
// yields exactly one digital order.
type PaymentLinks struct {
	links       PaymentLinkStore
	orders      LinkOrderStore
	logs        AccessLogStore
	codes       AccessCodeService
	provider    payment.Provider
	events      OrderEvents
	mail        Mailer
	sales       *cache.SalesCache
	limiter     *ratelimit.Limiter
	policies    ratelimit.Policies
	cfg         config.PaymentLinkConfig
	frontendURL string
	currency    string
	now         func() time.Time
	log         *logger.Logger
	metrics     *metrics.FlowMetrics
	audit       auditor
	alerts      alerter
}

// NewPaymentLinks returns a PaymentLinks service with defaults filled in.
func NewPaymentLinks(d PaymentLinkDeps) *PaymentLinks {
	now := clockOrDefault(d.Now)
	log := loggerOrNop(d.Log)
	if d.Currency == "" {
		d.Currency = "usd"
	}
	if d.Config.DefaultExpiryDays <= 0 {
		d.Config.DefaultExpiryDays = 7
	}
	if d.Config.MaxExpiryDays < d.Config.DefaultExpiryDays {
		d.Config.MaxExpiryDays = 90
	}
	if !d.Config.DefaultAmount.IsPositive() {
		d.Config.DefaultAmount = decimal.NewFromInt(20)
	}
	return &PaymentLinks{
		links:       d.Links,
		orders:      d.Orders,
		logs:        d.Logs,
		codes:       d.Codes,
		provider:    d.Provider,
		events:      d.Events,
		mail:        d.Mail,
		sales:       d.Sales,
		limiter:     d.Limiter,
		policies:    d.Policies,
		cfg:         d.Config,
		frontendURL: d.FrontendURL,
		currency:    d.Currency,
		now:         now,
		log:         log,
		metrics:     d.Metrics,
		audit:       auditor{store: d.Logs, now: now, log: log},
		alerts:      alerter{mail: d.Mail, metrics: d.Metrics, log: log},
	}
}

// Create issues a pending link for a customer.
func (s *PaymentLinks) Create(ctx context.Context, p auth.Principal, in CreateLinkInput) (LinkCreated, error) {
	if !p.IsAdmin() {
		return LinkCreated{}, apperr.New(apperr.CodeForbidden, "admin only")
	}
	if err := enforce(ctx, s.limiter, s.policies.LinkCreation, strconv.FormatUint(p.UserID, 10)); err != nil {
		return LinkCreated{}, err
	}

	email := strings.TrimSpace(in.CustomerEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return LinkCreated{}, apperr.New(apperr.CodeValidation, "customerEmail is not a valid email address")
	}
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return LinkCreated{}, apperr.New(apperr.CodeValidation, "customerName is required")
	}
	amount := s.cfg.DefaultAmount
	if in.Amount != nil {
		amount = in.Amount.Round(2)
	}
	if !amount.IsPositive() {
		return LinkCreated{}, apperr.New(apperr.CodeValidation, "amount must be positive")
	}
	days := in.ExpiryDays
	if days == 0 {
		days = s.cfg.DefaultExpiryDays
	}
	if days < 0 || days > s.cfg.MaxExpiryDays {
		return LinkCreated{}, apperr.New(apperr.CodeValidation,
			fmt.Sprintf("expiryDays must be between 1 and %d", s.cfg.MaxExpiryDays))
	}

	now := s.now().UTC()
	link := model.PaymentLink{
		Token:         uuid.NewString(),
		CustomerEmail: email,
		CustomerName:  name,
		Amount:        amount,
		Status:        model.LinkPending,
		ExpiresAt:     now.AddDate(0, 0, days),
		CreatedBy:     u64(p.UserID),
		Metadata:      map[string]any{"expiry_days": days},
		CreatedAt:     now,
	}
	if err := s.links.Create(ctx, &link); err != nil {
		return LinkCreated{}, apperr.Wrap(apperr.CodeInternal, err, "create payment link")
	}
	s.metrics.LinkTransition(string(model.LinkPending))
	ctx = s.log.WithField(ctx, "payment_link_id", link.ID)
	s.log.Info(ctx, "payment link created")

	out := LinkCreated{Link: link, URL: s.url(link)}
	if in.SendEmail {
		if err := s.sendInvite(ctx, link); err != nil {
			s.log.Error(ctx, "payment link email failed", err)
		} else {
			out.EmailSent = true
		}
	}
	return out, nil
}

// Validate shows a customer what the link offers. An expired link is moved
// to expired on first access.
func (s *PaymentLinks) Validate(ctx context.Context, token string, meta auth.RequestMeta) (LinkView, error) {
	if err := enforce(ctx, s.limiter, s.policies.LinkValidation, meta.IP); err != nil {
		return LinkView{}, err
	}
	link, err := s.usable(ctx, token, meta)
	if err != nil {
		return LinkView{}, err
	}
	s.audit.record(ctx, model.AccessLog{PaymentLinkID: u64(link.ID), Action: model.ActionViewed}, meta)
	return LinkView{
		CustomerName: link.CustomerName,
		Amount:       link.Amount,
		Message:      linkMessage,
		ExpiresAt:    link.ExpiresAt,
	}, nil
}

// InitiatePayment opens or reuses a payment intent for the link and moves
// it to processing.
func (s *PaymentLinks) InitiatePayment(ctx context.Context, token string, meta auth.RequestMeta) (PaymentInit, error) {
	if err := enforce(ctx, s.limiter, s.policies.PaymentAttempt, strings.TrimSpace(token)); err != nil {
		return PaymentInit{}, err
	}
	link, err := s.usable(ctx, token, meta)
	if err != nil {
		return PaymentInit{}, err
	}
	ctx = s.log.WithField(ctx, "payment_link_id", link.ID)

	intent, reused, err := s.intentFor(ctx, link)
	if err != nil {
		return PaymentInit{}, err
	}
	ok, err := s.links.MarkProcessing(ctx, link.ID, intent.ID, s.now())
	if err != nil {
		return PaymentInit{}, apperr.Wrap(apperr.CodeInternal, err, "mark link processing")
	}
	if !ok {
		if !reused {
			s.cancelIntent(ctx, intent.ID)
		}
		current, err := s.links.GetByID(ctx, link.ID)
		if err != nil {
			return PaymentInit{}, apperr.Wrap(apperr.CodeInternal, err, "reload payment link")
		}
		if current.Status == model.LinkCompleted {
			return PaymentInit{}, apperr.New(apperr.CodeAlreadyUsed, "payment link has already been used")
		}
		return PaymentInit{}, apperr.New(apperr.CodeExpired, "payment link has expired")
	}
	s.metrics.LinkTransition(string(model.LinkProcessing))
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		Action:        model.ActionPaymentAttempted,
		Details:       map[string]any{"payment_intent_id": intent.ID, "reused": reused},
	}, meta)
	return PaymentInit{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Amount: link.Amount}, nil
}

func (s *PaymentLinks) intentFor(ctx context.Context, link model.PaymentLink) (payment.Intent, bool, error) {
	if link.StripePaymentIntentID != nil {
		existing, err := s.provider.GetIntent(ctx, *link.StripePaymentIntentID)
		if err == nil && existing.Status != payment.IntentCanceled && existing.Amount.Equal(link.Amount) {
			return existing, true, nil
		}
		if err != nil {
			s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "stored payment intent unusable, creating a new one")
		}
	}
	intent, err := s.provider.CreateIntent(ctx, payment.IntentRequest{
		Amount:      link.Amount,
		Currency:    s.currency,
		Description: "Recital digital access",
		Metadata: map[string]string{
			"payment_link_id":    strconv.FormatUint(link.ID, 10),
			"payment_link_token": link.Token,
			"customer_email":     link.CustomerEmail,
			"customer_name":      link.CustomerName,
		},
	})
	if err != nil {
		return payment.Intent{}, false, apperr.Wrap(apperr.CodeDependency, err, "create payment intent")
	}
	return intent, false, nil
}

// CompletePayment finishes a link after the browser confirmed the intent.
// It is idempotent: a completed link returns its existing access code, but
// only to a caller presenting the intent that paid for it.
func (s *PaymentLinks) CompletePayment(ctx context.Context, token, intentID string, meta auth.RequestMeta) (Completion, error) {
	token = strings.TrimSpace(token)
	if err := enforce(ctx, s.limiter, s.policies.PaymentAttempt, token); err != nil {
		return Completion{}, err
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Completion{}, apperr.New(apperr.CodeValidation, "paymentIntentId is required")
	}
	link, err := s.load(s.links.GetByToken(ctx, token))
	if err != nil {
		return Completion{}, err
	}
	if link.Status == model.LinkCompleted {
		done, err := s.existing(ctx, link)
		if err != nil {
			return Completion{}, err
		}
		if !s.paidWith(ctx, link, done.OrderID, intentID) {
			return Completion{}, apperr.New(apperr.CodeNotFound, "payment link not found")
		}
		return done, nil
	}
	intent, err := s.provider.GetIntent(ctx, intentID)
	if err != nil {
		return Completion{}, apperr.Wrap(apperr.CodeDependency, err, "load payment intent")
	}
	return s.complete(ctx, link, intent, meta)
}

// CompleteFromIntent is the webhook path of CompletePayment. The link is
// found through the intent metadata, falling back to the stored intent id.
func (s *PaymentLinks) CompleteFromIntent(ctx context.Context, intent payment.Intent, meta auth.RequestMeta) (Completion, error) {
	link, err := s.linkForIntent(ctx, intent)
	if err != nil {
		return Completion{}, err
	}
	if link.Status == model.LinkCompleted {
		return s.existing(ctx, link)
	}
	return s.complete(ctx, link, intent, meta)
}

func (s *PaymentLinks) complete(ctx context.Context, link model.PaymentLink, intent payment.Intent, meta auth.RequestMeta) (Completion, error) {
	ctx = s.log.WithFields(ctx, map[string]any{"payment_link_id": link.ID, "payment_intent_id": intent.ID})
	if !s.intentBelongs(link, intent) {
		return Completion{}, apperr.New(apperr.CodeValidation, "payment does not belong to this link")
	}

	now := s.now()
	if link.Status == model.LinkExpired || link.ExpiredAt(now) {
		if intent.Succeeded() {
			s.alerts.raise(ctx, "payment_after_expiry", "Payment captured on expired link",
				fmt.Sprintf("payment intent %s for link %d (%s) succeeded after the link expired at %s",
					intent.ID, link.ID, link.CustomerEmail, link.ExpiresAt.Format(time.RFC3339)))
		}
		s.expire(ctx, link, "expired_reason", "expired_before_completion", meta)
		return Completion{}, apperr.New(apperr.CodeExpired, "payment link has expired")
	}
	if !intent.Succeeded() {
		return Completion{}, apperr.New(apperr.CodeValidation, "payment has not succeeded").
			WithDetails(map[string]string{"status": intent.Status})
	}
	if !intent.Amount.Equal(link.Amount) {
		s.alerts.raise(ctx, "amount_mismatch", "Payment link amount mismatch",
			fmt.Sprintf("intent %s paid %s but link %d asks %s", intent.ID, intent.Amount.StringFixed(2), link.ID, link.Amount.StringFixed(2)))
		return Completion{}, apperr.New(apperr.CodeAmountMismatch, "paid amount does not match the link")
	}

	order := model.Order{
		CustomerEmail:        link.CustomerEmail,
		CustomerName:         link.CustomerName,
		TotalAmount:          link.Amount,
		Status:               model.OrderFulfilled,
		StripePaymentID:      str(intent.ID),
		DigitalDownloadCount: 1,
		MediaType:            model.MediaDigital,
		MediaStatus:          model.MediaStatusFulfilled,
		Source:               model.SourcePaymentLink,
		Notes:                str(fmt.Sprintf("payment link %d", link.ID)),
		CreatedAt:            now.UTC(),
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return Completion{}, err
		}
		order.AccessCode = &code
		err = s.links.CompleteWithOrder(ctx, link.ID, &order, now)
		switch {
		case err == nil:
			s.afterCompletion(ctx, link, order, meta)
			return Completion{OrderID: order.ID, AccessCode: code}, nil
		case errors.Is(err, repository.ErrDuplicate):
			winner, gerr := s.orders.GetByStripePaymentID(ctx, intent.ID)
			if gerr == nil && winner.AccessCode != nil {
				return Completion{OrderID: winner.ID, AccessCode: *winner.AccessCode, AlreadyCompleted: true}, nil
			}
		case errors.Is(err, repository.ErrLinkNotCompletable):
			return s.afterLostRace(ctx, link.ID, intent, meta)
		default:
			return Completion{}, apperr.Wrap(apperr.CodeInternal, err, "complete payment link")
		}
	}
	return Completion{}, apperr.New(apperr.CodeInternal, "could not complete payment link")
}

func (s *PaymentLinks) afterLostRace(ctx context.Context, linkID uint64, intent payment.Intent, meta auth.RequestMeta) (Completion, error) {
	current, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		return Completion{}, apperr.Wrap(apperr.CodeInternal, err, "reload payment link")
	}
	switch current.Status {
	case model.LinkCompleted:
		return s.existing(ctx, current)
	case model.LinkExpired:
		s.alerts.raise(ctx, "payment_after_expiry", "Payment captured on expired link",
			fmt.Sprintf("payment intent %s for link %d succeeded but the link expired first", intent.ID, linkID))
		return Completion{}, apperr.New(apperr.CodeExpired, "payment link has expired")
	default:
		if current.ExpiredAt(s.now()) {
			s.expire(ctx, current, "expired_reason", "expired_before_completion", meta)
			return Completion{}, apperr.New(apperr.CodeExpired, "payment link has expired")
		}
		return Completion{}, apperr.New(apperr.CodeConflict, "payment link is not ready to complete")
	}
}

func (s *PaymentLinks) afterCompletion(ctx context.Context, link model.PaymentLink, order model.Order, meta auth.RequestMeta) {
	s.metrics.LinkTransition(string(model.LinkCompleted))
	s.sales.Invalidate(ctx)
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		OrderID:       u64(order.ID),
		AccessCode:    order.AccessCode,
		Action:        model.ActionPaymentSucceeded,
		Details:       map[string]any{"payment_intent_id": *order.StripePaymentID},
	}, meta)
	s.log.Info(s.log.WithField(ctx, "order_id", order.ID), "payment link completed")

	if s.events == nil {
		return
	}
	ev := queue.OrderConfirmedEvent{
		OrderID:       order.ID,
		Source:        string(model.SourcePaymentLink),
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Total:         order.TotalAmount.StringFixed(2),
		Digital:       order.DigitalDownloadCount,
		AccessCode:    *order.AccessCode,
		ConfirmedAt:   order.CreatedAt,
	}
	if err := s.events.PublishOrderConfirmed(ctx, ev); err != nil {
		s.log.Error(ctx, "publishing payment link confirmation failed", err)
	}
}

func (s *PaymentLinks) existing(ctx context.Context, link model.PaymentLink) (Completion, error) {
	if link.OrderID == nil {
		return Completion{}, apperr.New(apperr.CodeInternal, "completed payment link has no order")
	}
	o, err := s.orders.GetByID(ctx, *link.OrderID)
	if err != nil {
		return Completion{}, apperr.Wrap(apperr.CodeInternal, err, "load order for payment link")
	}
	if o.AccessCode == nil {
		return Completion{}, apperr.New(apperr.CodeInternal, "payment link order has no access code")
	}
	return Completion{OrderID: o.ID, AccessCode: *o.AccessCode, AlreadyCompleted: true}, nil
}

// RecordIntentFailure marks a declined payment. The link stays retryable
// until it expires.
func (s *PaymentLinks) RecordIntentFailure(ctx context.Context, intent payment.Intent, meta auth.RequestMeta) error {
	link, err := s.linkForIntent(ctx, intent)
	if err != nil {
		return err
	}
	reason := intent.FailureMsg
	if reason == "" {
		reason = intent.FailureCode
	}
	if reason == "" {
		reason = "payment_failed"
	}
	ok, err := s.links.MarkFailed(ctx, link.ID, reason, s.now())
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "mark link failed")
	}
	if ok {
		s.metrics.LinkTransition(string(model.LinkFailed))
	}
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		Action:        model.ActionPaymentFailed,
		Details:       map[string]any{"payment_intent_id": intent.ID, "reason": reason, "applied": ok},
	}, meta)
	return nil
}

// RecordIntentCanceled expires the link of a canceled intent.
func (s *PaymentLinks) RecordIntentCanceled(ctx context.Context, intent payment.Intent, reason string, meta auth.RequestMeta) error {
	link, err := s.linkForIntent(ctx, intent)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "canceled"
	}
	s.expire(ctx, link, "cancellation_reason", reason, meta)
	return nil
}

// Cancel withdraws an unfinished link. Cancelling an expired link is a
// no-op.
func (s *PaymentLinks) Cancel(ctx context.Context, p auth.Principal, id uint64, meta auth.RequestMeta) (model.PaymentLink, error) {
	if !p.IsAdmin() {
		return model.PaymentLink{}, apperr.New(apperr.CodeForbidden, "admin only")
	}
	link, err := s.load(s.links.GetByID(ctx, id))
	if err != nil {
		return model.PaymentLink{}, err
	}
	switch link.Status {
	case model.LinkCompleted:
		return model.PaymentLink{}, apperr.New(apperr.CodeAlreadyUsed, "payment link has already been used")
	case model.LinkExpired:
		return link, nil
	}
	if link.StripePaymentIntentID != nil {
		s.cancelIntent(ctx, *link.StripePaymentIntentID)
	}
	ok, err := s.links.MarkExpired(ctx, link.ID, "cancellation_reason", "cancelled_by_admin", s.now())
	if err != nil {
		return model.PaymentLink{}, apperr.Wrap(apperr.CodeInternal, err, "cancel payment link")
	}
	if !ok {
		return model.PaymentLink{}, apperr.New(apperr.CodeConflict, "payment link changed while cancelling")
	}
	if err := s.links.SetMetadata(ctx, link.ID, "cancelled_by", p.UserID, s.now()); err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "recording canceller failed")
	}
	s.metrics.LinkTransition(string(model.LinkExpired))
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		Action:        model.ActionCancelled,
		Details:       map[string]any{"admin_id": p.UserID},
	}, meta)
	return s.load(s.links.GetByID(ctx, id))
}

// Resend mails the purchase URL again.
func (s *PaymentLinks) Resend(ctx context.Context, p auth.Principal, id uint64, meta auth.RequestMeta) error {
	if !p.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "admin only")
	}
	link, err := s.load(s.links.GetByID(ctx, id))
	if err != nil {
		return err
	}
	switch {
	case link.Status == model.LinkCompleted:
		return apperr.New(apperr.CodeAlreadyUsed, "payment link has already been used")
	case link.Status == model.LinkExpired || link.ExpiredAt(s.now()):
		return apperr.New(apperr.CodeExpired, "payment link has expired")
	}
	if err := s.sendInvite(ctx, link); err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "send payment link email")
	}
	if err := s.links.SetMetadata(ctx, link.ID, "last_resent_at", s.now().UTC().Format(time.RFC3339), s.now()); err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "recording resend failed")
	}
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		Action:        model.ActionResent,
		Details:       map[string]any{"admin_id": p.UserID},
	}, meta)
	return nil
}

// Status returns a link with its URL and last access-log entries. Admin only.
func (s *PaymentLinks) Status(ctx context.Context, p auth.Principal, id uint64) (LinkStatus, error) {
	if !p.IsAdmin() {
		return LinkStatus{}, apperr.New(apperr.CodeForbidden, "admin only")
	}
	link, err := s.load(s.links.GetByID(ctx, id))
	if err != nil {
		return LinkStatus{}, err
	}
	logs, err := s.logs.ListByPaymentLink(ctx, id, statusLogSize)
	if err != nil {
		return LinkStatus{}, apperr.Wrap(apperr.CodeInternal, err, "list access log")
	}
	return LinkStatus{Link: link, URL: s.url(link), Logs: logs}, nil
}

// List returns links newest first, optionally filtered by status. Admin only.
func (s *PaymentLinks) List(ctx context.Context, p auth.Principal, status model.PaymentLinkStatus, limit, offset int) ([]model.PaymentLink, error) {
	if !p.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	switch status {
	case "", model.LinkPending, model.LinkProcessing, model.LinkCompleted, model.LinkExpired, model.LinkFailed:
	default:
		return nil, apperr.New(apperr.CodeValidation, "unknown status filter")
	}
	links, err := s.links.List(ctx, status, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list payment links")
	}
	return links, nil
}

// CleanupExpired expires every unfinished link past its expiry and cancels
// the attached intents. An intent that already succeeded raises an alert
// instead.
func (s *PaymentLinks) CleanupExpired(ctx context.Context) (int, error) {
	links, err := s.links.ListExpirable(ctx, s.now(), cleanupBatch)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, err, "list expirable links")
	}
	var (
		expired int
		errs    error
	)
	for _, link := range links {
		ok, err := s.links.MarkExpired(ctx, link.ID, "expired_reason", "cleanup", s.now())
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("link %d: %w", link.ID, err))
			continue
		}
		if !ok {
			continue
		}
		expired++
		s.metrics.LinkTransition(string(model.LinkExpired))
		s.audit.record(ctx, model.AccessLog{
			PaymentLinkID: u64(link.ID),
			Action:        model.ActionExpired,
			Details:       map[string]any{"reason": "cleanup"},
		}, auth.RequestMeta{IP: "system"})
		if link.StripePaymentIntentID != nil {
			s.settleAbandonedIntent(ctx, link)
		}
	}
	return expired, errs
}

func (s *PaymentLinks) settleAbandonedIntent(ctx context.Context, link model.PaymentLink) {
	id := *link.StripePaymentIntentID
	intent, err := s.provider.GetIntent(ctx, id)
	if err == nil && intent.Succeeded() {
		s.alerts.raise(ctx, "payment_after_expiry", "Payment captured on expired link",
			fmt.Sprintf("payment intent %s for link %d (%s) succeeded but the link expired without completion",
				id, link.ID, link.CustomerEmail))
		return
	}
	if err == nil && intent.Status == payment.IntentCanceled {
		return
	}
	s.cancelIntent(ctx, id)
}

// usable loads a link by token and rejects it unless a customer can still
// pay it.
func (s *PaymentLinks) usable(ctx context.Context, token string, meta auth.RequestMeta) (model.PaymentLink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.PaymentLink{}, apperr.New(apperr.CodeValidation, "token is required")
	}
	link, err := s.load(s.links.GetByToken(ctx, token))
	if err != nil {
		return model.PaymentLink{}, err
	}
	switch {
	case link.Status == model.LinkCompleted:
		return model.PaymentLink{}, apperr.New(apperr.CodeAlreadyUsed, "payment link has already been used")
	case link.Status == model.LinkExpired:
		return model.PaymentLink{}, apperr.New(apperr.CodeExpired, "payment link has expired")
	case link.ExpiredAt(s.now()):
		s.expire(ctx, link, "expired_reason", "expired_on_access", meta)
		return model.PaymentLink{}, apperr.New(apperr.CodeExpired, "payment link has expired")
	}
	return link, nil
}

func (s *PaymentLinks) expire(ctx context.Context, link model.PaymentLink, key, reason string, meta auth.RequestMeta) {
	ok, err := s.links.MarkExpired(ctx, link.ID, key, reason, s.now())
	if err != nil {
		s.log.Error(s.log.WithField(ctx, "payment_link_id", link.ID), "expiring payment link failed", err)
		return
	}
	if !ok {
		return
	}
	s.metrics.LinkTransition(string(model.LinkExpired))
	s.audit.record(ctx, model.AccessLog{
		PaymentLinkID: u64(link.ID),
		Action:        model.ActionExpired,
		Details:       map[string]any{key: reason},
	}, meta)
}

func (s *PaymentLinks) linkForIntent(ctx context.Context, intent payment.Intent) (model.PaymentLink, error) {
	if token := intent.Metadata["payment_link_token"]; token != "" {
		link, err := s.links.GetByToken(ctx, token)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return model.PaymentLink{}, apperr.Wrap(apperr.CodeInternal, err, "load payment link")
		}
	}
	return s.load(s.links.GetByIntentID(ctx, intent.ID))
}

func (s *PaymentLinks) intentBelongs(link model.PaymentLink, intent payment.Intent) bool {
	if link.StripePaymentIntentID != nil && *link.StripePaymentIntentID == intent.ID {
		return true
	}
	if id := intent.Metadata["payment_link_id"]; id != "" {
		return id == strconv.FormatUint(link.ID, 10)
	}
	return intent.Metadata["payment_link_token"] == link.Token
}

// paidWith reports whether intentID is the intent recorded against the
// completed link or its order.
func (s *PaymentLinks) paidWith(ctx context.Context, link model.PaymentLink, orderID uint64, intentID string) bool {
	if link.StripePaymentIntentID != nil && *link.StripePaymentIntentID == intentID {
		return true
	}
	o, err := s.orders.GetByID(ctx, orderID)
	return err == nil && o.StripePaymentID != nil && *o.StripePaymentID == intentID
}

func (s *PaymentLinks) load(link model.PaymentLink, err error) (model.PaymentLink, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return model.PaymentLink{}, apperr.New(apperr.CodeNotFound, "payment link not found")
	}
	if err != nil {
		return model.PaymentLink{}, apperr.Wrap(apperr.CodeInternal, err, "load payment link")
	}
	return link, nil
}

func (s *PaymentLinks) cancelIntent(ctx context.Context, intentID string) {
	if err := s.provider.CancelIntent(ctx, intentID); err != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{"payment_intent_id": intentID, "error": err.Error()}), "cancelling payment intent failed")
	}
}

func (s *PaymentLinks) url(link model.PaymentLink) string {
	return s.cfg.PurchaseURL(s.frontendURL, link.Token)
}

func (s *PaymentLinks) sendInvite(ctx context.Context, link model.PaymentLink) error {
	if s.mail == nil {
		return errors.New("mailer not configured")
	}
	msg, err := mailer.PaymentLinkInviteMessage(link.CustomerEmail, mailer.PaymentLinkInvite{
		Name:      link.CustomerName,
		Amount:    link.Amount.StringFixed(2),
		URL:       s.url(link),
		ExpiresAt: link.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return s.mail.Send(ctx, msg)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/cache"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/payment"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

// OrderOrchestrator runs seat checkout and the admin media-order views.
type OrderOrchestrator interface {
	CreateOrder(ctx context.Context, p auth.Principal, req CheckoutRequest) (model.Order, error)
	UpdateMediaStatus(ctx context.Context, p auth.Principal, orderID uint64, status model.MediaStatus, notes *string) (model.Order, error)
	ListMediaOrders(ctx context.Context, p auth.Principal, status model.MediaStatus, limit, offset int) ([]model.Order, error)
	ListUserTickets(ctx context.Context, p auth.Principal) ([]model.TicketDetail, error)
	ListUserMediaOrders(ctx context.Context, p auth.Principal) ([]model.Order, error)
	GenerateAccessCodes(ctx context.Context, p auth.Principal, orderIDs []uint64) ([]AccessCodeResult, error)
	SalesTotals(ctx context.Context, p auth.Principal) (model.SalesTotals, bool, error)
}

// OrderStore is the order persistence used by checkout and the admin media
// views. CreateWithTickets writes the order and its tickets in one
// transaction.
type OrderStore interface {
	CreateWithTickets(ctx context.Context, o *model.Order, tickets []model.Ticket) error
	GetByID(ctx context.Context, id uint64) (model.Order, error)
	UpdateMediaStatus(ctx context.Context, orderID uint64, status model.MediaStatus, notes *string) error
	ListMedia(ctx context.Context, f repository.MediaOrderFilter) ([]model.Order, error)
	ListTicketsByUser(ctx context.Context, userID uint64) ([]model.TicketDetail, error)
	SalesTotals(ctx context.Context) (model.SalesTotals, error)
}

// CheckoutRequest is a seat checkout as submitted by the browser.
type CheckoutRequest struct {
	SeatIDs        []uint64
	DVDs           int
	Digital        int
	DeclaredAmount decimal.Decimal
	PaymentToken   string
	PrintInfo      json.RawMessage
	Email          string
	Name           string
}

// AccessCodeResult is the per-order outcome of a bulk code generation.
type AccessCodeResult struct {
	OrderID    uint64 `json:"orderId"`
	AccessCode string `json:"accessCode,omitempty"`
	Existing   bool   `json:"existing,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OrderDeps wires an OrderService. Events, Sales and Mail may be nil; the
// confirmation, cache invalidation and alert are then skipped.
type OrderDeps struct {
	Orders    OrderStore
	Seats     SeatStore
	Inventory SeatInventory
	Codes     AccessCodeService
	Provider  payment.Provider
	Pricing   Pricing
	Events    OrderEvents
	Sales     *cache.SalesCache
	Mail      Mailer
	Now       func() time.Time
	Log       *logger.Logger
	Metrics   *metrics.FlowMetrics
}

// OrderService is the checkout orchestrator. It recomputes the price,
// charges once, then turns each held seat into a sale. Money taken for a
// seat that could not be allocated is reported, never silently refunded.
type OrderService struct {
	orders    OrderStore
	seats     SeatStore
	inventory SeatInventory
	codes     AccessCodeService
	provider  payment.Provider
	pricing   Pricing
	events    OrderEvents
	sales     *cache.SalesCache
	now       func() time.Time
	log       *logger.Logger
	metrics   *metrics.FlowMetrics
	alerts    alerter
}

// NewOrderService returns an OrderService with defaults filled in.
func NewOrderService(d OrderDeps) *OrderService {
	log := loggerOrNop(d.Log)
	return &OrderService{
		orders:    d.Orders,
		seats:     d.Seats,
		inventory: d.Inventory,
		codes:     d.Codes,
		provider:  d.Provider,
		pricing:   d.Pricing,
		events:    d.Events,
		sales:     d.Sales,
		now:       clockOrDefault(d.Now),
		log:       log,
		metrics:   d.Metrics,
		alerts:    alerter{mail: d.Mail, metrics: d.Metrics, log: log},
	}
}

// CreateOrder prices, charges and fulfils a checkout. Nothing is charged
// unless the declared amount matches and every seat is still available.
// Once the charge succeeds the order is always persisted, as failed when a
// seat was lost in between.
func (s *OrderService) CreateOrder(ctx context.Context, p auth.Principal, req CheckoutRequest) (model.Order, error) {
	if !p.Authenticated() {
		return model.Order{}, apperr.New(apperr.CodeUnauthorized, "login required to check out")
	}
	ctx = s.log.WithUserID(ctx, p.UserID)

	seats, err := s.validateCheckout(ctx, &req, p)
	if err != nil {
		s.metrics.Order("invalid")
		return model.Order{}, err
	}

	cart := Cart{Tickets: len(req.SeatIDs), DVDs: req.DVDs, Digital: req.Digital}
	expected := s.pricing.Expected(cart)
	if !req.DeclaredAmount.Equal(expected) {
		s.metrics.Order("amount_mismatch")
		s.alerts.raise(ctx, "amount_mismatch", "Checkout amount mismatch",
			fmt.Sprintf("user %d declared %s, expected %s for %d tickets, %d DVDs, %d digital",
				p.UserID, req.DeclaredAmount.StringFixed(2), expected.StringFixed(2), cart.Tickets, cart.DVDs, cart.Digital))
		return model.Order{}, apperr.New(apperr.CodeAmountMismatch, "amount does not match the order total").
			WithDetails(map[string]string{"expected": expected.StringFixed(2)})
	}

	for _, seat := range seats {
		if !seat.IsAvailable || (seat.IsReserved && !seat.HeldBy(p.UserID)) {
			s.metrics.Order("seat_conflict")
			return model.Order{}, apperr.New(apperr.CodeConflict, "seat no longer available").
				WithDetails(map[string]string{"seat": seat.Label()})
		}
	}

	charge, err := s.provider.Charge(ctx, payment.ChargeRequest{
		Amount:       expected,
		Currency:     s.pricing.Currency(),
		Token:        req.PaymentToken,
		Description:  fmt.Sprintf("Recital tickets: %d seats, %d DVD, %d digital", cart.Tickets, cart.DVDs, cart.Digital),
		ReceiptEmail: req.Email,
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(p.UserID, 10),
			"seats":   seatIDList(req.SeatIDs),
		},
	})
	if err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			s.metrics.Order("declined")
			return model.Order{}, apperr.Wrap(apperr.CodePaymentDeclined, err, "payment declined")
		}
		s.metrics.Order("provider_error")
		return model.Order{}, apperr.Wrap(apperr.CodeDependency, err, "payment provider unavailable")
	}
	ctx = s.log.WithField(ctx, "charge_id", charge.ID)

	now := s.now().UTC()
	var (
		tickets []model.Ticket
		labels  []string
		lost    []model.Seat
	)
	for _, seat := range seats {
		if err := s.inventory.AllocateForSale(ctx, seat.ID); err != nil {
			if !apperr.Is(err, apperr.CodeSeatUnavailable) {
				s.log.Error(s.log.WithField(ctx, "seat_id", seat.ID), "seat allocation failed after charge", err)
			}
			lost = append(lost, seat)
			continue
		}
		tickets = append(tickets, model.Ticket{SeatID: seat.ID, EventID: seat.EventID, CreatedAt: now})
		labels = append(labels, seat.Label())
	}

	order := model.Order{
		UserID:               u64(p.UserID),
		CustomerEmail:        req.Email,
		CustomerName:         req.Name,
		TotalAmount:          expected,
		Status:               model.OrderPaid,
		StripePaymentID:      str(charge.ID),
		DVDCount:             req.DVDs,
		DigitalDownloadCount: req.Digital,
		MediaType:            model.MediaTypeFor(req.DVDs, req.Digital),
		MediaStatus:          model.MediaStatusPending,
		PrintInfo:            req.PrintInfo,
		Source:               model.SourceCheckout,
		CreatedAt:            now,
	}

	if len(lost) > 0 {
		return model.Order{}, s.recordPartialFailure(ctx, order, tickets, lost, charge.ID)
	}

	if err := s.persist(ctx, &order, tickets, req.Digital > 0); err != nil {
		s.metrics.Order("persist_failed")
		s.log.Error(s.log.WithField(ctx, "seat_ids", seatIDList(req.SeatIDs)), "order persistence failed after charge", err)
		s.alerts.raise(ctx, "order_persist_failed", "Order not saved after charge",
			fmt.Sprintf("charge %s for user %d (seats %s) succeeded but the order could not be saved: %v",
				charge.ID, p.UserID, seatIDList(req.SeatIDs), err))
		return model.Order{}, apperr.Wrap(apperr.CodePartialFailure, err, "order could not be saved after charge")
	}
	s.metrics.Order("paid")
	s.sales.Invalidate(ctx)
	s.log.Info(s.log.WithField(ctx, "order_id", order.ID), "order created")

	s.confirm(ctx, order, labels)
	return order, nil
}

func (s *OrderService) validateCheckout(ctx context.Context, req *CheckoutRequest, p auth.Principal) ([]model.Seat, error) {
	if req.DVDs < 0 || req.Digital < 0 {
		return nil, apperr.New(apperr.CodeValidation, "quantities must not be negative")
	}
	if len(req.SeatIDs) == 0 && req.DVDs == 0 && req.Digital == 0 {
		return nil, apperr.New(apperr.CodeValidation, "cart is empty")
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		return nil, apperr.New(apperr.CodeValidation, "payment token is required")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		req.Email = p.Email
	}
	if req.Email == "" {
		return nil, apperr.New(apperr.CodeValidation, "email is required")
	}
	req.Name = strings.TrimSpace(req.Name)
	if len(req.PrintInfo) > 0 && !json.Valid(req.PrintInfo) {
		return nil, apperr.New(apperr.CodeValidation, "printInfo must be valid JSON")
	}

	seen := make(map[uint64]bool, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if seen[id] {
			return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("seat %d listed twice", id))
		}
		seen[id] = true
	}
	if len(req.SeatIDs) == 0 {
		return nil, nil
	}
	seats, err := s.seats.GetMany(ctx, req.SeatIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load seats")
	}
	if len(seats) != len(req.SeatIDs) {
		found := make(map[uint64]bool, len(seats))
		for _, seat := range seats {
			found[seat.ID] = true
		}
		var missing []uint64
		for _, id := range req.SeatIDs {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, apperr.New(apperr.CodeValidation, "unknown seats: "+seatIDList(missing))
	}
	return seats, nil
}

// persist writes the order and its tickets, minting an access code when a
// digital download was bought. A collision on the code retries with a new
// one.
func (s *OrderService) persist(ctx context.Context, o *model.Order, tickets []model.Ticket, digital bool) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if digital {
			code, err := s.codes.Generate(ctx)
			if err != nil {
				return err
			}
			o.AccessCode = &code
		}
		err := s.orders.CreateWithTickets(ctx, o, tickets)
		if err == nil {
			return nil
		}
		if !digital || !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
	}
	return errors.New("access code collisions exhausted")
}

func (s *OrderService) recordPartialFailure(ctx context.Context, order model.Order, tickets []model.Ticket, lost []model.Seat, chargeID string) error {
	lostLabels := make([]string, 0, len(lost))
	lostIDs := make([]uint64, 0, len(lost))
	for _, seat := range lost {
		lostLabels = append(lostLabels, seat.Label())
		lostIDs = append(lostIDs, seat.ID)
	}
	detail := "seats not allocated after charge: " + strings.Join(lostLabels, ", ")
	order.Status = model.OrderFailed
	order.FailureDetail = &detail

	var errs error
	if err := s.orders.CreateWithTickets(ctx, &order, tickets); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.metrics.Order("partial_failure")
	fields := map[string]any{"seat_ids": seatIDList(lostIDs), "order_id": order.ID}
	s.log.Error(s.log.WithFields(ctx, fields), "seats lost after charge", errors.New(detail))
	s.alerts.raise(ctx, "partial_failure_after_charge", "Seats lost after charge",
		fmt.Sprintf("charge %s, order %d: %s. No refund was issued.", chargeID, order.ID, detail))
	if errs != nil {
		s.log.Error(ctx, "failed order could not be saved", errs)
	} else {
		s.sales.Invalidate(ctx)
	}
	return apperr.New(apperr.CodePartialFailure, detail).
		WithDetails(map[string]any{"orderId": order.ID, "lostSeats": lostLabels})
}

func (s *OrderService) confirm(ctx context.Context, o model.Order, seatLabels []string) {
	if s.events == nil {
		return
	}
	ev := queue.OrderConfirmedEvent{
		OrderID:       o.ID,
		Source:        string(o.Source),
		CustomerEmail: o.CustomerEmail,
		CustomerName:  o.CustomerName,
		Total:         o.TotalAmount.StringFixed(2),
		Seats:         seatLabels,
		DVDs:          o.DVDCount,
		Digital:       o.DigitalDownloadCount,
		ConfirmedAt:   o.CreatedAt,
	}
	if o.UserID != nil {
		ev.UserID = *o.UserID
	}
	if o.AccessCode != nil {
		ev.AccessCode = *o.AccessCode
	}
	if err := s.events.PublishOrderConfirmed(ctx, ev); err != nil {
		s.log.Error(s.log.WithField(ctx, "order_id", o.ID), "publishing order confirmation failed", err)
	}
}

// UpdateMediaStatus marks DVD/digital fulfilment. Only fulfilled media
// unlocks an access code.
func (s *OrderService) UpdateMediaStatus(ctx context.Context, p auth.Principal, orderID uint64, status model.MediaStatus, notes *string) (model.Order, error) {
	if !p.IsAdmin() {
		return model.Order{}, apperr.New(apperr.CodeForbidden, "admin only")
	}
	if status != model.MediaStatusPending && status != model.MediaStatusFulfilled {
		return model.Order{}, apperr.New(apperr.CodeValidation, "mediaStatus must be pending or fulfilled")
	}
	if err := s.orders.UpdateMediaStatus(ctx, orderID, status, notes); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Order{}, apperr.New(apperr.CodeNotFound, "order not found")
		}
		return model.Order{}, apperr.Wrap(apperr.CodeInternal, err, "update media status")
	}
	s.sales.Invalidate(ctx)
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return model.Order{}, apperr.Wrap(apperr.CodeInternal, err, "load order")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"order_id": orderID, "media_status": string(status)}), "media status updated")
	return o, nil
}

// ListMediaOrders returns orders with DVD or digital units, newest first,
// optionally filtered by media status. Admin only.
func (s *OrderService) ListMediaOrders(ctx context.Context, p auth.Principal, status model.MediaStatus, limit, offset int) ([]model.Order, error) {
	if !p.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	orders, err := s.orders.ListMedia(ctx, repository.MediaOrderFilter{MediaStatus: status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list media orders")
	}
	return orders, nil
}

// ListUserTickets returns the caller's tickets with seat and showtime details.
func (s *OrderService) ListUserTickets(ctx context.Context, p auth.Principal) ([]model.TicketDetail, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "login required")
	}
	tickets, err := s.orders.ListTicketsByUser(ctx, p.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list tickets")
	}
	return tickets, nil
}

// ListUserMediaOrders returns the caller's orders that include media.
func (s *OrderService) ListUserMediaOrders(ctx context.Context, p auth.Principal) ([]model.Order, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.CodeUnauthorized, "login required")
	}
	orders, err := s.orders.ListMedia(ctx, repository.MediaOrderFilter{UserID: p.UserID, Limit: 200})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list media orders")
	}
	return orders, nil
}

// GenerateAccessCodes assigns codes to digital orders that lack one. Each
// order is handled on its own; one failure does not stop the rest.
func (s *OrderService) GenerateAccessCodes(ctx context.Context, p auth.Principal, orderIDs []uint64) ([]AccessCodeResult, error) {
	if !p.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	if len(orderIDs) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "orderIds is required")
	}
	results := make([]AccessCodeResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		res := AccessCodeResult{OrderID: id}
		o, err := s.orders.GetByID(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			res.Error = "order not found"
		case err != nil:
			s.log.Error(s.log.WithField(ctx, "order_id", id), "load order for access code", err)
			res.Error = "internal error"
		case !o.HasDigitalEntitlement():
			res.Error = "order has no digital download"
		case o.AccessCode != nil:
			res.AccessCode = *o.AccessCode
			res.Existing = true
		default:
			code, err := s.codes.Assign(ctx, id)
			if err != nil {
				s.log.Error(s.log.WithField(ctx, "order_id", id), "assign access code", err)
				res.Error = apperr.MetadataFor(apperr.CodeOf(err)).PublicMessage
			} else {
				res.AccessCode = code
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// SalesTotals returns the dashboard aggregate and whether it came from the
// cache.
func (s *OrderService) SalesTotals(ctx context.Context, p auth.Principal) (model.SalesTotals, bool, error) {
	if !p.IsAdmin() {
		return model.SalesTotals{}, false, apperr.New(apperr.CodeForbidden, "admin only")
	}
	if s.sales == nil {
		t, err := s.orders.SalesTotals(ctx)
		if err != nil {
			return model.SalesTotals{}, false, apperr.Wrap(apperr.CodeInternal, err, "sales totals")
		}
		t.ComputedAt = s.now().UTC()
		return t, false, nil
	}
	t, hit, err := s.sales.Get(ctx, s.orders.SalesTotals)
	if err != nil {
		return model.SalesTotals{}, false, apperr.Wrap(apperr.CodeInternal, err, "sales totals")
	}
	return t, hit, nil
}

func seatIDList(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

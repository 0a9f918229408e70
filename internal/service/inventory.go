package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/metrics"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

// SeatInventory owns the seat soft-lock and sale transitions.
type SeatInventory interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListSeats(ctx context.Context, eventID uint64) ([]model.Seat, error)
	Reserve(ctx context.Context, seatID uint64, p auth.Principal) (model.Seat, error)
	Release(ctx context.Context, seatID uint64, p auth.Principal) (model.Seat, error)
	Toggle(ctx context.Context, seatID uint64, reserve bool, p auth.Principal) (model.Seat, error)
	AllocateForSale(ctx context.Context, seatID uint64) error
	SweepExpired(ctx context.Context) (int, error)
	EventMetrics(ctx context.Context, eventID uint64, p auth.Principal) (model.EventStats, error)
}

// SeatStore is the seat persistence the inventory needs. Reserve, Release,
// AllocateForSale and ReleaseIfStale are conditional updates: false means
// another caller changed the row first.
type SeatStore interface {
	GetByID(ctx context.Context, id uint64) (model.Seat, error)
	GetMany(ctx context.Context, ids []uint64) ([]model.Seat, error)
	ListByEvent(ctx context.Context, eventID uint64) ([]model.Seat, error)
	Reserve(ctx context.Context, id, holder uint64, at time.Time) (bool, error)
	Release(ctx context.Context, id, holder uint64, override bool) (bool, error)
	AllocateForSale(ctx context.Context, id uint64) (bool, error)
	ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
	ReleaseIfStale(ctx context.Context, id uint64, cutoff time.Time) (bool, error)
	Stats(ctx context.Context, eventID uint64) (model.EventStats, error)
}

// EventStore reads the fixed showtimes.
type EventStore interface {
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id uint64) (model.Event, error)
}

const sweepBatch = 500

// InventoryDeps wires an InventoryService. A zero Window means the 15 minute
// soft-lock; a nil Bus drops seat events.
type InventoryDeps struct {
	Seats   SeatStore
	Events  EventStore
	Bus     SeatEvents
	Window  time.Duration
	Now     func() time.Time
	Log     *logger.Logger
	Metrics *metrics.FlowMetrics
}

// InventoryService is the SeatInventory backed by the seats table. A seat
// is free, held by one customer until its window lapses, or sold. Only
// the holder, an admin or the sweeper can release a hold.
type InventoryService struct {
	seats   SeatStore
	events  EventStore
	bus     SeatEvents
	window  time.Duration
	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.FlowMetrics
}

// NewInventoryService returns an InventoryService with defaults filled in.
func NewInventoryService(d InventoryDeps) *InventoryService {
	if d.Window <= 0 {
		d.Window = 15 * time.Minute
	}
	if d.Bus == nil {
		d.Bus = discardSeatEvents{}
	}
	return &InventoryService{
		seats:   d.Seats,
		events:  d.Events,
		bus:     d.Bus,
		window:  d.Window,
		now:     clockOrDefault(d.Now),
		log:     loggerOrNop(d.Log),
		metrics: d.Metrics,
	}
}

// ListEvents returns every showtime ordered by start time.
func (s *InventoryService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list events")
	}
	return events, nil
}

// ListSeats returns the seat map for one showtime. Unknown events are NotFound.
func (s *InventoryService) ListSeats(ctx context.Context, eventID uint64) ([]model.Seat, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "event not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load event")
	}
	seats, err := s.seats.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list seats")
	}
	return seats, nil
}

// EventMetrics reports how a showtime is selling. Admin only. The seat
// split is also pushed to the event_seats gauge.
func (s *InventoryService) EventMetrics(ctx context.Context, eventID uint64, p auth.Principal) (model.EventStats, error) {
	if !p.IsAdmin() {
		return model.EventStats{}, apperr.New(apperr.CodeForbidden, "admin role required")
	}
	ev, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.EventStats{}, apperr.New(apperr.CodeNotFound, "event not found")
	}
	if err != nil {
		return model.EventStats{}, apperr.Wrap(apperr.CodeInternal, err, "load event")
	}
	st, err := s.seats.Stats(ctx, eventID)
	if err != nil {
		return model.EventStats{}, apperr.Wrap(apperr.CodeInternal, err, "count seats")
	}
	s.metrics.EventSeats(string(ev.RecitalType), st.AvailableSeats, st.HeldSeats, st.SoldSeats)
	return st, nil
}

// Reserve soft-locks a seat for the caller.
func (s *InventoryService) Reserve(ctx context.Context, seatID uint64, p auth.Principal) (model.Seat, error) {
	if !p.Authenticated() {
		return model.Seat{}, apperr.New(apperr.CodeUnauthorized, "login required to reserve seats")
	}
	ok, err := s.seats.Reserve(ctx, seatID, p.UserID, s.now().UTC())
	if err != nil {
		return model.Seat{}, apperr.Wrap(apperr.CodeInternal, err, "reserve seat")
	}
	seat, err := s.load(ctx, seatID)
	if err != nil {
		return model.Seat{}, err
	}
	if !ok {
		s.metrics.Seat("reserve", "conflict")
		if !seat.IsAvailable {
			return model.Seat{}, apperr.New(apperr.CodeConflict, "seat is already sold")
		}
		return model.Seat{}, apperr.New(apperr.CodeConflict, "seat is already reserved")
	}
	s.metrics.Seat("reserve", "ok")
	s.publish(seat, queue.SeatReserved, p.UserID)
	return seat, nil
}

// Release clears the caller's soft-lock. Admins may release any lock.
func (s *InventoryService) Release(ctx context.Context, seatID uint64, p auth.Principal) (model.Seat, error) {
	if !p.Authenticated() {
		return model.Seat{}, apperr.New(apperr.CodeUnauthorized, "login required to release seats")
	}
	ok, err := s.seats.Release(ctx, seatID, p.UserID, p.IsAdmin())
	if err != nil {
		return model.Seat{}, apperr.Wrap(apperr.CodeInternal, err, "release seat")
	}
	seat, err := s.load(ctx, seatID)
	if err != nil {
		return model.Seat{}, err
	}
	if !ok {
		s.metrics.Seat("release", "conflict")
		return model.Seat{}, apperr.New(apperr.CodeConflict, "seat is not reserved by you")
	}
	s.metrics.Seat("release", "ok")
	s.publish(seat, queue.SeatReleased, p.UserID)
	return seat, nil
}

// Toggle maps the seat picker's {isReserved} body onto Reserve or Release.
func (s *InventoryService) Toggle(ctx context.Context, seatID uint64, reserve bool, p auth.Principal) (model.Seat, error) {
	if reserve {
		return s.Reserve(ctx, seatID, p)
	}
	return s.Release(ctx, seatID, p)
}

// AllocateForSale hard-sells a seat. Of two concurrent callers exactly one
// succeeds; the other gets SeatUnavailable.
func (s *InventoryService) AllocateForSale(ctx context.Context, seatID uint64) error {
	ok, err := s.seats.AllocateForSale(ctx, seatID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "allocate seat")
	}
	if !ok {
		if _, err := s.load(ctx, seatID); err != nil {
			return err
		}
		s.metrics.Seat("allocate", "unavailable")
		return apperr.New(apperr.CodeSeatUnavailable, "seat no longer available")
	}
	s.metrics.Seat("allocate", "ok")
	s.bus.Publish(queue.SeatEvent{SeatID: seatID, Action: queue.SeatSold, At: s.now().UTC()})
	return nil
}

// SweepExpired releases soft-locks older than the reservation window. The
// cutoff is recomputed for every seat at the moment of its update, so a
// seat re-reserved after the scan keeps its new lock.
func (s *InventoryService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.seats.ListStaleReservations(ctx, s.now().Add(-s.window), sweepBatch)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, err, "list stale reservations")
	}
	var (
		released int
		errs     error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		now := s.now()
		ok, err := s.seats.ReleaseIfStale(ctx, id, now.Add(-s.window))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			released++
			s.bus.Publish(queue.SeatEvent{SeatID: id, Action: queue.SeatExpired, At: now.UTC()})
		}
	}
	if released > 0 {
		s.log.Info(s.log.WithField(ctx, "released", released), "expired seat reservations released")
	}
	return released, errs
}

func (s *InventoryService) load(ctx context.Context, seatID uint64) (model.Seat, error) {
	seat, err := s.seats.GetByID(ctx, seatID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Seat{}, apperr.New(apperr.CodeNotFound, "seat not found")
	}
	if err != nil {
		return model.Seat{}, apperr.Wrap(apperr.CodeInternal, err, "load seat")
	}
	return seat, nil
}

func (s *InventoryService) publish(seat model.Seat, action queue.SeatAction, userID uint64) {
	s.bus.Publish(queue.SeatEvent{
		SeatID:  seat.ID,
		EventID: seat.EventID,
		Action:  action,
		UserID:  userID,
		At:      s.now().UTC(),
	})
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/queue"
	"github.com/iliyamo/recital-box-office/internal/repository"
	"github.com/iliyamo/recital-box-office/internal/repository/repotest"
)

type inventoryFixture struct {
	svc     *InventoryService
	seats   *repository.SeatRepo
	clock   *testClock
	bus     *fakeSeatEvents
	eventID uint64
	a15     uint64
	a16     uint64
}

func newInventory(t *testing.T) inventoryFixture {
	t.Helper()
	db := openDB(t)
	eventID := repotest.InsertEvent(t, db, "Spring Recital (Morning)", "morning", t0.Add(48*time.Hour))
	f := inventoryFixture{
		seats:   repository.NewSeatRepo(db),
		clock:   newClock(t0),
		bus:     &fakeSeatEvents{},
		eventID: eventID,
		a15:     repotest.InsertSeat(t, db, eventID, "A", 15),
		a16:     repotest.InsertSeat(t, db, eventID, "A", 16),
	}
	f.svc = NewInventoryService(InventoryDeps{
		Seats:  f.seats,
		Events: repository.NewEventRepo(db),
		Bus:    f.bus,
		Window: 15 * time.Minute,
		Now:    f.clock.Now,
	})
	return f
}

var (
	alice = auth.Principal{UserID: 7, Role: model.RoleCustomer, Email: "alice@example.com"}
	bob   = auth.Principal{UserID: 8, Role: model.RoleCustomer, Email: "bob@example.com"}
	admin = auth.Principal{UserID: 1, Role: model.RoleAdmin, Email: "ops@example.com"}
)

func TestSweepKeepsFreshAndReleasesStaleReservation(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	seat, err := f.svc.Reserve(ctx, f.a15, alice)
	require.NoError(t, err)
	assert.True(t, seat.IsReserved)

	f.clock.Advance(10 * time.Minute)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	seat, err = f.seats.GetByID(ctx, f.a15)
	require.NoError(t, err)
	assert.True(t, seat.IsReserved, "reservation inside the window survives the sweep")

	f.clock.Advance(6 * time.Minute)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	seat, err = f.seats.GetByID(ctx, f.a15)
	require.NoError(t, err)
	assert.False(t, seat.IsReserved)
	assert.Nil(t, seat.ReservedBy)
	assert.True(t, seat.IsAvailable)

	assert.Equal(t, []queue.SeatAction{queue.SeatReserved, queue.SeatExpired}, f.bus.actions())
}

func TestReserveConflictsAndRelease(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	_, err := f.svc.Reserve(ctx, f.a15, auth.Principal{})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	_, err = f.svc.Reserve(ctx, f.a15, alice)
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, f.a15, bob)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	_, err = f.svc.Release(ctx, f.a15, bob)
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "only the holder releases")

	seat, err := f.svc.Toggle(ctx, f.a15, false, alice)
	require.NoError(t, err)
	assert.False(t, seat.IsReserved)

	_, err = f.svc.Reserve(ctx, 999, alice)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAdminReleasesAnyReservation(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	_, err := f.svc.Reserve(ctx, f.a16, alice)
	require.NoError(t, err)
	seat, err := f.svc.Release(ctx, f.a16, admin)
	require.NoError(t, err)
	assert.False(t, seat.IsReserved)
}

func TestAllocateForSaleOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	require.NoError(t, f.svc.AllocateForSale(ctx, f.a15))
	err := f.svc.AllocateForSale(ctx, f.a15)
	assert.True(t, apperr.Is(err, apperr.CodeSeatUnavailable))

	_, err = f.svc.Reserve(ctx, f.a15, alice)
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "a sold seat cannot be reserved")

	seat, err := f.seats.GetByID(ctx, f.a15)
	require.NoError(t, err)
	assert.False(t, seat.IsAvailable)
	assert.False(t, seat.IsReserved)
}

func TestSweepIgnoresSoldSeats(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	_, err := f.svc.Reserve(ctx, f.a15, alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.AllocateForSale(ctx, f.a15))

	f.clock.Advance(time.Hour)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	seat, err := f.seats.GetByID(ctx, f.a15)
	require.NoError(t, err)
	assert.False(t, seat.IsAvailable)
}

func TestListSeatsUnknownEvent(t *testing.T) {
	f := newInventory(t)
	_, err := f.svc.ListSeats(context.Background(), 404)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	seats, err := f.svc.ListSeats(context.Background(), f.eventID)
	require.NoError(t, err)
	assert.Len(t, seats, 2)
}

func TestEventMetrics(t *testing.T) {
	ctx := context.Background()
	f := newInventory(t)

	_, err := f.svc.Reserve(ctx, f.a15, alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.AllocateForSale(ctx, f.a16))

	st, err := f.svc.EventMetrics(ctx, f.eventID, admin)
	require.NoError(t, err)
	assert.Equal(t, model.EventStats{
		EventID:        f.eventID,
		TotalSeats:     2,
		SoldSeats:      1,
		HeldSeats:      1,
		AvailableSeats: 0,
	}, st)

	_, err = f.svc.EventMetrics(ctx, f.eventID, alice)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	_, err = f.svc.EventMetrics(ctx, 404, admin)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

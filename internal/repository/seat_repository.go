package repository // repository defines data access for seats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/recital-box-office/internal/model"
)

// SeatRepo provides the seat soft-lock and sale transitions. Every
// transition is a single conditional UPDATE; callers inspect the returned
// bool to learn whether their update won.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

const seatColumns = `id, event_id, section, row_label, seat_number, display_order,
	is_available, is_reserved, reservation_timestamp, reserved_by, handicap_access, updated_at`

func scanSeat(row rowScanner) (model.Seat, error) {
	var (
		s          model.Seat
		reservedAt sql.NullTime
		reservedBy sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.EventID, &s.Section, &s.RowLabel, &s.SeatNumber, &s.DisplayOrder,
		&s.IsAvailable, &s.IsReserved, &reservedAt, &reservedBy, &s.HandicapAccess, &s.UpdatedAt)
	if err != nil {
		return model.Seat{}, err
	}
	s.ReservationTimestamp = nullTimePtr(reservedAt)
	s.ReservedBy = nullUint64Ptr(reservedBy)
	return s, nil
}

// GetByID loads one seat.
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (model.Seat, error) {
	s, err := scanSeat(r.db.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Seat{}, ErrNotFound
	}
	return s, err
}

// GetMany loads the seats with the given ids. Unknown ids are skipped.
func (r *SeatRepo) GetMany(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	return r.query(ctx, `SELECT `+seatColumns+` FROM seats WHERE id IN `+in+` ORDER BY id`, args...)
}

// ListByEvent returns the seat map of a showtime in picker order.
func (r *SeatRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Seat, error) {
	return r.query(ctx, `SELECT `+seatColumns+` FROM seats WHERE event_id = ? ORDER BY display_order, id`, eventID)
}

// Stats counts the seats of a showtime by state and the tickets and
// distinct orders issued for it.
func (r *SeatRepo) Stats(ctx context.Context, eventID uint64) (model.EventStats, error) {
	st := model.EventStats{EventID: eventID}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN is_available = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN is_available = 1 AND is_reserved = 1 THEN 1 ELSE 0 END), 0)
		 FROM seats WHERE event_id = ?`, eventID).
		Scan(&st.TotalSeats, &st.SoldSeats, &st.HeldSeats)
	if err != nil {
		return model.EventStats{}, err
	}
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT order_id) FROM tickets WHERE event_id = ?`, eventID).
		Scan(&st.TicketsSold, &st.Orders)
	if err != nil {
		return model.EventStats{}, err
	}
	st.AvailableSeats = st.TotalSeats - st.SoldSeats - st.HeldSeats
	return st, nil
}

func (r *SeatRepo) query(ctx context.Context, q string, args ...any) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// Reserve soft-locks a free, unsold seat for holder. It returns false when
// the seat is already reserved, sold or missing.
func (r *SeatRepo) Reserve(ctx context.Context, id, holder uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats SET is_reserved = 1, reservation_timestamp = ?, reserved_by = ?
		 WHERE id = ? AND is_reserved = 0 AND is_available = 1`,
		at.UTC(), holder, id)
	return affectedOne(res, err)
}

// Release clears the soft-lock held by holder. With override the holder is
// not checked.
func (r *SeatRepo) Release(ctx context.Context, id, holder uint64, override bool) (bool, error) {
	q := `UPDATE seats SET is_reserved = 0, reservation_timestamp = NULL, reserved_by = NULL
	      WHERE id = ? AND is_reserved = 1`
	args := []any{id}
	if !override {
		q += ` AND reserved_by = ?`
		args = append(args, holder)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	return affectedOne(res, err)
}

// AllocateForSale marks an available seat as sold and drops any soft-lock
// on it. Of two concurrent callers exactly one gets true.
func (r *SeatRepo) AllocateForSale(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats SET is_available = 0, is_reserved = 0, reservation_timestamp = NULL, reserved_by = NULL
		 WHERE id = ? AND is_available = 1`,
		id)
	return affectedOne(res, err)
}

// ListStaleReservations returns ids of unsold seats soft-locked at or
// before cutoff.
func (r *SeatRepo) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM seats
		 WHERE is_reserved = 1 AND is_available = 1 AND reservation_timestamp <= ?
		 ORDER BY id LIMIT ?`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseIfStale clears the soft-lock only if it is still at or before
// cutoff. A seat re-reserved after the candidate scan keeps its lock.
func (r *SeatRepo) ReleaseIfStale(ctx context.Context, id uint64, cutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seats SET is_reserved = 0, reservation_timestamp = NULL, reserved_by = NULL
		 WHERE id = ? AND is_reserved = 1 AND is_available = 1 AND reservation_timestamp <= ?`,
		id, cutoff.UTC())
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/recital-box-office/internal/model"
)

// OrderRepo persists orders and their tickets.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to db.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, user_id, customer_email, customer_name, total_amount, status, stripe_payment_id,
	dvd_count, digital_download_count, media_type, media_status, access_code, access_code_emailed,
	print_info, failure_detail, source, notes, created_at, updated_at`

// paidStatuses are the order states that count as revenue.
var paidStatuses = []string{string(model.OrderPaid), string(model.OrderCompleted), string(model.OrderFulfilled)}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o         model.Order
		userID    sql.NullInt64
		paymentID sql.NullString
		code      sql.NullString
		failure   sql.NullString
		notes     sql.NullString
	)
	err := row.Scan(&o.ID, &userID, &o.CustomerEmail, &o.CustomerName, &o.TotalAmount, &o.Status, &paymentID,
		&o.DVDCount, &o.DigitalDownloadCount, &o.MediaType, &o.MediaStatus, &code, &o.AccessCodeEmailed,
		&o.PrintInfo, &failure, &o.Source, &notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.UserID = nullUint64Ptr(userID)
	o.StripePaymentID = nullStringPtr(paymentID)
	o.AccessCode = nullStringPtr(code)
	o.FailureDetail = nullStringPtr(failure)
	o.Notes = nullStringPtr(notes)
	return o, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertOrder writes o and sets its ID. Unique violations on the access
// code or stripe payment id surface as ErrDuplicate.
func insertOrder(ctx context.Context, ex execer, o *model.Order) error {
	var printInfo any
	if len(o.PrintInfo) > 0 {
		printInfo = string(o.PrintInfo)
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO orders (user_id, customer_email, customer_name, total_amount, status, stripe_payment_id,
			dvd_count, digital_download_count, media_type, media_status, access_code, access_code_emailed,
			print_info, failure_detail, source, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uint64Arg(o.UserID), o.CustomerEmail, o.CustomerName, o.TotalAmount.StringFixed(2), string(o.Status),
		stringArg(o.StripePaymentID), o.DVDCount, o.DigitalDownloadCount, string(o.MediaType), string(o.MediaStatus),
		stringArg(o.AccessCode), o.AccessCodeEmailed, printInfo, stringArg(o.FailureDetail), string(o.Source),
		stringArg(o.Notes), o.CreatedAt.UTC(), o.CreatedAt.UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.UpdatedAt = o.CreatedAt
	return nil
}

func insertTickets(ctx context.Context, ex execer, orderID uint64, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tickets (order_id, seat_id, event_id, created_at) VALUES `)
	args := make([]any, 0, len(tickets)*4)
	for i := range tickets {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?)")
		tickets[i].OrderID = orderID
		args = append(args, orderID, tickets[i].SeatID, tickets[i].EventID, tickets[i].CreatedAt.UTC())
	}
	if _, err := ex.ExecContext(ctx, sb.String(), args...); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CreateWithTickets persists an order and one ticket per allocated seat in
// a single transaction.
func (r *OrderRepo) CreateWithTickets(ctx context.Context, o *model.Order, tickets []model.Ticket) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		return insertTickets(ctx, tx, o.ID, tickets)
	})
}

func (r *OrderRepo) getOne(ctx context.Context, where string, arg any) (model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` LIMIT 1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

// GetByID returns one order or ErrNotFound.
func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (model.Order, error) {
	return r.getOne(ctx, `id = ?`, id)
}

// GetByAccessCode looks an order up by its DVL code.
func (r *OrderRepo) GetByAccessCode(ctx context.Context, code string) (model.Order, error) {
	return r.getOne(ctx, `access_code = ?`, code)
}

// GetByStripePaymentID finds the order paid by a provider charge or intent.
func (r *OrderRepo) GetByStripePaymentID(ctx context.Context, paymentID string) (model.Order, error) {
	return r.getOne(ctx, `stripe_payment_id = ?`, paymentID)
}

// AccessCodeExists reports whether any order already carries code.
func (r *OrderRepo) AccessCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE access_code = ?`, code).Scan(&n)
	return n > 0, err
}

// AssignAccessCode sets the code on an order that has none yet. It returns
// ErrDuplicate when another order owns the code and ErrConflict when the
// order already has a code.
func (r *OrderRepo) AssignAccessCode(ctx context.Context, orderID uint64, code string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET access_code = ? WHERE id = ? AND access_code IS NULL`, code, orderID)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	ok, err := affectedOne(res, nil)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := r.GetByID(ctx, orderID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// UpdateMediaStatus moves the media status of an order and records notes.
func (r *OrderRepo) UpdateMediaStatus(ctx context.Context, orderID uint64, status model.MediaStatus, notes *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET media_status = ?, notes = COALESCE(?, notes) WHERE id = ?`,
		string(status), stringArg(notes), orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 affected rows when the values are unchanged.
		if _, err := r.GetByID(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

// MarkAccessCodeEmailed flags that the access code reached the customer.
func (r *OrderRepo) MarkAccessCodeEmailed(ctx context.Context, orderID uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET access_code_emailed = 1 WHERE id = ?`, orderID)
	return err
}

// MediaOrderFilter narrows ListMedia. Zero values mean no filter.
type MediaOrderFilter struct {
	MediaStatus model.MediaStatus
	UserID      uint64
	Limit       int
	Offset      int
}

// ListMedia returns orders that include a DVD or a digital download,
// newest first.
func (r *OrderRepo) ListMedia(ctx context.Context, f MediaOrderFilter) ([]model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE media_type <> 'none'`
	var args []any
	if f.MediaStatus != "" {
		q += ` AND media_status = ?`
		args = append(args, string(f.MediaStatus))
	}
	if f.UserID != 0 {
		q += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTicketsByUser returns the tickets a customer bought, with seat and
// event details.
func (r *OrderRepo) ListTicketsByUser(ctx context.Context, userID uint64) ([]model.TicketDetail, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.order_id, t.seat_id, t.event_id, t.created_at, o.status,
		        e.title, e.recital_type, e.starts_at, s.section, s.row_label, s.seat_number
		 FROM tickets t
		 JOIN orders o ON o.id = t.order_id
		 JOIN events e ON e.id = t.event_id
		 JOIN seats s ON s.id = t.seat_id
		 WHERE o.user_id = ?
		 ORDER BY e.starts_at, s.display_order, t.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TicketDetail
	for rows.Next() {
		var d model.TicketDetail
		if err := rows.Scan(&d.ID, &d.OrderID, &d.SeatID, &d.EventID, &d.CreatedAt, &d.OrderStatus,
			&d.EventTitle, &d.RecitalType, &d.StartsAt, &d.Section, &d.RowLabel, &d.SeatNumber); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecitalTypesForCustomer returns the showtimes a customer holds paid
// tickets for, matched by account or by email.
func (r *OrderRepo) RecitalTypesForCustomer(ctx context.Context, userID *uint64, email string) ([]model.RecitalType, error) {
	in, statusArgs := stringsIn(paidStatuses)
	args := append([]any{uint64Arg(userID), email}, statusArgs...)
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT e.recital_type
		 FROM tickets t
		 JOIN orders o ON o.id = t.order_id
		 JOIN events e ON e.id = t.event_id
		 WHERE (o.user_id = ? OR o.customer_email = ?) AND o.status IN `+in+`
		 ORDER BY e.recital_type`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RecitalType
	for rows.Next() {
		var rt model.RecitalType
		if err := rows.Scan(&rt); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// SalesTotals aggregates revenue and unit counts over paid orders.
func (r *OrderRepo) SalesTotals(ctx context.Context) (model.SalesTotals, error) {
	var t model.SalesTotals
	in, args := stringsIn(paidStatuses)
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_amount), 0), COUNT(*),
		        COALESCE(SUM(dvd_count), 0), COALESCE(SUM(digital_download_count), 0)
		 FROM orders WHERE status IN `+in, args...).
		Scan(&t.Revenue, &t.Orders, &t.DVDs, &t.Digital)
	if err != nil {
		return model.SalesTotals{}, err
	}
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets t JOIN orders o ON o.id = t.order_id WHERE o.status IN `+in, args...).
		Scan(&t.TicketsSold)
	if err != nil {
		return model.SalesTotals{}, err
	}
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE status = ?`, string(model.OrderFailed)).
		Scan(&t.FailedOrders)
	if err != nil {
		return model.SalesTotals{}, err
	}
	return t, nil
}

func stringsIn(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")", args
}

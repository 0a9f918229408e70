package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/recital-box-office/internal/model"
)

// AccessLogRepo appends and reads audit rows. It never updates a row.
type AccessLogRepo struct {
	db *sql.DB
}

// NewAccessLogRepo returns an AccessLogRepo bound to db.
func NewAccessLogRepo(db *sql.DB) *AccessLogRepo { return &AccessLogRepo{db: db} }

// Append writes one audit row.
func (r *AccessLogRepo) Append(ctx context.Context, e model.AccessLog) error {
	details, err := encodeJSON(e.Details)
	if err != nil {
		return err
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = time.Now()
	}
	if e.AccessCode != nil && len(*e.AccessCode) > 64 {
		code := truncate(*e.AccessCode, 64)
		e.AccessCode = &code
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO access_logs (payment_link_id, order_id, access_code, action, ip_address, user_agent, details, accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uint64Arg(e.PaymentLinkID), uint64Arg(e.OrderID), stringArg(e.AccessCode), string(e.Action),
		e.IPAddress, truncate(e.UserAgent, 512), details, e.AccessedAt.UTC())
	return err
}

// ListByPaymentLink returns the most recent entries for a link.
func (r *AccessLogRepo) ListByPaymentLink(ctx context.Context, linkID uint64, limit int) ([]model.AccessLog, error) {
	return r.list(ctx, `payment_link_id = ?`, linkID, limit)
}

// ListByAccessCode returns the most recent entries for an access code.
func (r *AccessLogRepo) ListByAccessCode(ctx context.Context, code string, limit int) ([]model.AccessLog, error) {
	return r.list(ctx, `access_code = ?`, code, limit)
}

func (r *AccessLogRepo) list(ctx context.Context, where string, arg any, limit int) ([]model.AccessLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payment_link_id, order_id, access_code, action, ip_address, user_agent, details, accessed_at
		 FROM access_logs WHERE `+where+` ORDER BY accessed_at DESC, id DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AccessLog
	for rows.Next() {
		var (
			e       model.AccessLog
			linkID  sql.NullInt64
			orderID sql.NullInt64
			code    sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &linkID, &orderID, &code, &e.Action, &e.IPAddress, &e.UserAgent, &details, &e.AccessedAt); err != nil {
			return nil, err
		}
		e.PaymentLinkID = nullUint64Ptr(linkID)
		e.OrderID = nullUint64Ptr(orderID)
		e.AccessCode = nullStringPtr(code)
		e.Details = decodeJSON(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes entries accessed before cutoff and returns how
// many were removed.
func (r *AccessLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM access_logs WHERE accessed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/recital-box-office/internal/model"
)

// PaymentLinkRepo persists payment links. Status moves are conditional
// UPDATEs keyed on the current status, and every move towards processing
// or completed also requires expires_at to be in the future.
type PaymentLinkRepo struct {
	db *sql.DB
}

func NewPaymentLinkRepo(db *sql.DB) *PaymentLinkRepo { return &PaymentLinkRepo{db: db} }

const linkColumns = `id, token, customer_email, customer_name, amount, status, expires_at,
	stripe_payment_intent_id, order_id, created_by, metadata, created_at, updated_at`

func scanLink(row rowScanner) (model.PaymentLink, error) {
	var (
		l         model.PaymentLink
		intentID  sql.NullString
		orderID   sql.NullInt64
		createdBy sql.NullInt64
		meta      []byte
	)
	err := row.Scan(&l.ID, &l.Token, &l.CustomerEmail, &l.CustomerName, &l.Amount, &l.Status, &l.ExpiresAt,
		&intentID, &orderID, &createdBy, &meta, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.PaymentLink{}, err
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.StripePaymentIntentID = nullStringPtr(intentID)
	l.OrderID = nullUint64Ptr(orderID)
	l.CreatedBy = nullUint64Ptr(createdBy)
	l.Metadata = decodeJSON(meta)
	return l, nil
}

// Create inserts a pending link and sets its ID.
func (r *PaymentLinkRepo) Create(ctx context.Context, l *model.PaymentLink) error {
	meta, err := encodeJSON(l.Metadata)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_links (token, customer_email, customer_name, amount, status, expires_at,
			created_by, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Token, l.CustomerEmail, l.CustomerName, l.Amount.StringFixed(2), string(l.Status), l.ExpiresAt.UTC(),
		uint64Arg(l.CreatedBy), meta, l.CreatedAt.UTC(), l.CreatedAt.UTC())
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
	l.ID = uint64(id)
	l.UpdatedAt = l.CreatedAt
	return nil
}

func (r *PaymentLinkRepo) getOne(ctx context.Context, where string, arg any) (model.PaymentLink, error) {
	l, err := scanLink(r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE `+where+` LIMIT 1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PaymentLink{}, ErrNotFound
	}
	return l, err
}

// GetByID returns one link or ErrNotFound.
func (r *PaymentLinkRepo) GetByID(ctx context.Context, id uint64) (model.PaymentLink, error) {
	return r.getOne(ctx, `id = ?`, id)
}

// GetByToken returns the link for a public token or ErrNotFound.
func (r *PaymentLinkRepo) GetByToken(ctx context.Context, token string) (model.PaymentLink, error) {
	return r.getOne(ctx, `token = ?`, token)
}

// GetByIntentID returns the link holding a payment intent, used by webhooks.
func (r *PaymentLinkRepo) GetByIntentID(ctx context.Context, intentID string) (model.PaymentLink, error) {
	return r.getOne(ctx, `stripe_payment_intent_id = ?`, intentID)
}

// List returns links newest first, optionally filtered by status.
func (r *PaymentLinkRepo) List(ctx context.Context, status model.PaymentLinkStatus, limit, offset int) ([]model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + ` FROM payment_links`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return r.query(ctx, q, args...)
}

// ListExpirable returns unfinished links whose expiry passed before now.
func (r *PaymentLinkRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.PaymentLink, error) {
	return r.query(ctx,
		`SELECT `+linkColumns+` FROM payment_links
		 WHERE status IN ('pending', 'processing', 'failed') AND expires_at < ?
		 ORDER BY expires_at, id LIMIT ?`,
		now.UTC(), limit)
}

func (r *PaymentLinkRepo) query(ctx context.Context, q string, args ...any) ([]model.PaymentLink, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PaymentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkProcessing stores the provider intent and moves the link to
// processing. Only unexpired pending, failed or processing links qualify.
func (r *PaymentLinkRepo) MarkProcessing(ctx context.Context, id uint64, intentID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_links SET status = 'processing', stripe_payment_intent_id = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing', 'failed') AND expires_at > ?`,
		intentID, now.UTC(), id, now.UTC())
	return affectedOne(res, err)
}

// MarkExpired moves an unfinished link to expired and records why.
func (r *PaymentLinkRepo) MarkExpired(ctx context.Context, id uint64, metaKey, reason string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_links
		 SET status = 'expired', metadata = JSON_SET(COALESCE(metadata, JSON_OBJECT()), ?, ?), updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing', 'failed')`,
		"$."+metaKey, reason, now.UTC(), id)
	return affectedOne(res, err)
}

// MarkFailed records a provider-reported failure on a link that has not
// completed.
func (r *PaymentLinkRepo) MarkFailed(ctx context.Context, id uint64, reason string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_links
		 SET status = 'failed', metadata = JSON_SET(COALESCE(metadata, JSON_OBJECT()), '$.failure_reason', ?), updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		reason, now.UTC(), id)
	return affectedOne(res, err)
}

// SetMetadata records a single audit key on a link.
func (r *PaymentLinkRepo) SetMetadata(ctx context.Context, id uint64, key string, value any, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_links SET metadata = JSON_SET(COALESCE(metadata, JSON_OBJECT()), ?, ?), updated_at = ? WHERE id = ?`,
		"$."+key, value, now.UTC(), id)
	return err
}

// CompleteWithOrder inserts the order and marks the link completed in one
// transaction. The link update is guarded by status and expiry; when it
// matches no row the order insert is rolled back and
// ErrLinkNotCompletable is returned. A concurrent completion of the same
// intent surfaces as ErrDuplicate from the unique stripe_payment_id.
func (r *PaymentLinkRepo) CompleteWithOrder(ctx context.Context, linkID uint64, o *model.Order, now time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE payment_links SET status = 'completed', order_id = ?, updated_at = ?
			 WHERE id = ? AND status IN ('processing', 'failed') AND expires_at > ?`,
			o.ID, now.UTC(), linkID, now.UTC())
		ok, err := affectedOne(res, err)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLinkNotCompletable
		}
		return nil
	})
}

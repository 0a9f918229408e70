package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PasswordResetRepo stores single-use reset tokens by SHA-256 hash.
type PasswordResetRepo struct{ db *sql.DB }

// NewPasswordResetRepo returns a PasswordResetRepo bound to db.
func NewPasswordResetRepo(db *sql.DB) *PasswordResetRepo { return &PasswordResetRepo{db: db} }

// Store records a reset token for userID. Earlier unused tokens of the
// same user are marked used so only the newest mail works.
func (r *PasswordResetRepo) Store(ctx context.Context, userID uint64, tokenHash string, exp, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE password_resets SET used_at = ? WHERE user_id = ? AND used_at IS NULL`,
		now.UTC(), userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO password_resets (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, tokenHash, exp.UTC(), now.UTC()); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	return tx.Commit()
}

// Consume marks an unused, unexpired token as used and returns its owner.
// Only one caller can consume a token; every other outcome is ErrNotFound.
func (r *PasswordResetRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE password_resets SET used_at = ? WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		now.UTC(), tokenHash, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	var userID uint64
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM password_resets WHERE token_hash = ?`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return userID, err
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TokenRepo stores refresh tokens by SHA-256 hash. A row is usable while
// revoked_at is NULL and expires_at is in the future.
type TokenRepo struct{ db *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

// StoreRefresh inserts the hash of a newly issued refresh token.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?, ?, ?)`,
		userID, tokenHash, exp.UTC())
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// ValidateRefresh returns the owner of an active token. Revoked, expired
// and unknown tokens all yield ErrNotFound.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error) {
	var (
		userID    uint64
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM refresh_tokens WHERE token_hash = ? AND revoked_at IS NULL LIMIT 1`,
		tokenHash).Scan(&userID, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotFound
	case err != nil:
		return 0, err
	case !now.UTC().Before(expiresAt.UTC()):
		return 0, ErrNotFound
	}
	return userID, nil
}

// RevokeByHash revokes one session. Unknown hashes are not an error.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error {
	return r.revoke(ctx, `token_hash = ?`, tokenHash, now)
}

// RevokeAllForUser ends every session of userID.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) error {
	return r.revoke(ctx, `user_id = ?`, userID, now)
}

func (r *TokenRepo) revoke(ctx context.Context, where string, arg any, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE `+where+` AND revoked_at IS NULL`,
		now.UTC(), arg)
	return err
}

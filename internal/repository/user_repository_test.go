package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/repository/repotest"
)

func TestUserRepoCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(repotest.Open(t))

	id, err := repo.Create(ctx, " Ada@Example.com ", "s3cret-pass", model.RoleCustomer, 4)
	require.NoError(t, err)

	u, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.True(t, u.IsActive)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "s3cret-pass"))

	_, err = repo.Create(ctx, "ada@example.com", "other-pass", model.RoleCustomer, 4)
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenRepoRefreshLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewTokenRepo(repotest.Open(t))

	require.NoError(t, repo.StoreRefresh(ctx, 7, "hash-1", t0.Add(time.Hour)))
	uid, err := repo.ValidateRefresh(ctx, "hash-1", t0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, uid)

	_, err = repo.ValidateRefresh(ctx, "hash-1", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.RevokeByHash(ctx, "hash-1", t0))
	_, err = repo.ValidateRefresh(ctx, "hash-1", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepoUpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(repotest.Open(t))
	id, err := repo.Create(ctx, "ada@example.com", "first-pass", model.RoleCustomer, 4)
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePassword(ctx, id, "second-pass", 4))
	u, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "second-pass"))
	assert.False(t, auth.CheckPassword(u.PasswordHash, "first-pass"))

	assert.ErrorIs(t, repo.UpdatePassword(ctx, id, "short", 4), auth.ErrWeakPassword)
	assert.ErrorIs(t, repo.UpdatePassword(ctx, 999, "third-pass", 4), ErrNotFound)
}

func TestPasswordResetRepoSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewPasswordResetRepo(repotest.Open(t))

	require.NoError(t, repo.Store(ctx, 7, "reset-1", t0.Add(24*time.Hour), t0))
	id, err := repo.Consume(ctx, "reset-1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)

	_, err = repo.Consume(ctx, "reset-1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound, "a used token cannot be replayed")
	_, err = repo.Consume(ctx, "unknown", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordResetRepoExpiryAndSupersede(t *testing.T) {
	ctx := context.Background()
	repo := NewPasswordResetRepo(repotest.Open(t))

	require.NoError(t, repo.Store(ctx, 7, "old", t0.Add(24*time.Hour), t0))
	require.NoError(t, repo.Store(ctx, 7, "new", t0.Add(25*time.Hour), t0.Add(time.Hour)))

	_, err := repo.Consume(ctx, "old", t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound, "a newer request supersedes the old mail")

	_, err = repo.Consume(ctx, "new", t0.Add(26*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound, "expired")

	assert.ErrorIs(t, repo.Store(ctx, 8, "new", t0.Add(24*time.Hour), t0), ErrDuplicate)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/model"
)

func TestIssueAndParseAccess(t *testing.T) {
	now := time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss := NewIssuer("test-secret", 15*time.Minute, 24*time.Hour, clock)

	tok, err := iss.IssueAccess(Principal{UserID: 42, Role: model.RoleAdmin, Email: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), tok.Exp)

	p, err := iss.ParseAccess(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: 42, Role: model.RoleAdmin, Email: "ops@example.com"}, p)
	assert.True(t, p.IsAdmin())

	now = now.Add(16 * time.Minute)
	_, err = iss.ParseAccess(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessRejectsForeignTokens(t *testing.T) {
	iss := NewIssuer("test-secret", time.Minute, time.Hour, nil)

	other := NewIssuer("other-secret", time.Minute, time.Hour, nil)
	tok, err := other.IssueAccess(Principal{UserID: 1, Role: model.RoleCustomer})
	require.NoError(t, err)
	_, err = iss.ParseAccess(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "exp": time.Now().Add(time.Hour).Unix()})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.ParseAccess(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokenAndHash(t *testing.T) {
	iss := NewIssuer("s", time.Minute, 48*time.Hour, nil)
	a, err := iss.NewRefresh()
	require.NoError(t, err)
	b, err := iss.NewRefresh()
	require.NoError(t, err)

	assert.Len(t, a.Raw, 96)
	assert.NotEqual(t, a.Raw, b.Raw)
	assert.Equal(t, HashToken(a.Raw), HashToken(a.Raw))
	assert.Len(t, HashToken(a.Raw), 64)

	reset, err := NewResetToken()
	require.NoError(t, err)
	assert.Len(t, reset, 64)
	assert.NotEqual(t, HashToken(reset), reset)
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("short", 4)
	assert.ErrorIs(t, err, ErrWeakPassword)

	hash, err := HashPassword("long-enough", 4)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "long-enough"))
	assert.False(t, CheckPassword(hash, "long-enougH"))
}

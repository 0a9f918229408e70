package service

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

func newAccounts(t *testing.T) (*AccountService, *auth.Issuer) {
	t.Helper()
	db := openDB(t)
	clock := newClock(t0)
	issuer := auth.NewIssuer("jwt-secret", 15*time.Minute, 30*24*time.Hour, clock.Now)
	return NewAccountService(AccountDeps{
		Users:      repository.NewUserRepo(db),
		Tokens:     repository.NewTokenRepo(db),
		Issuer:     issuer,
		BcryptCost: 4,
		Now:        clock.Now,
	}), issuer
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, issuer := newAccounts(t)

	s, err := svc.Register(ctx, " Pat@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", s.User.Email)
	assert.Equal(t, model.RoleCustomer, s.User.Role)
	assert.Empty(t, s.User.PasswordHash)

	p, err := issuer.ParseAccess(s.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, p.UserID)
	assert.Equal(t, "pat@example.com", p.Email)

	_, err = svc.Register(ctx, "pat@example.com", "another-pass")
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	_, err = svc.Register(ctx, "short@example.com", "short")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.Register(ctx, "nope", "long-enough")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = svc.Login(ctx, "pat@example.com", "wrong-horse")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	logged, err := svc.Login(ctx, "PAT@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, logged.User.ID)

	me, err := svc.Me(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", me.Email)
	_, err = svc.Me(ctx, auth.Principal{})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAccounts(t)
	s, err := svc.Register(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, s.Refresh.Raw)
	require.NoError(t, err)
	assert.NotEqual(t, s.Refresh.Raw, next.Refresh.Raw)

	_, err = svc.Refresh(ctx, s.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized), "a rotated token cannot be reused")

	_, err = svc.Refresh(ctx, "")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, issuer := newAccounts(t)
	first, err := svc.Register(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)
	third, err := svc.Login(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, auth.Principal{}, first.Refresh.Raw))
	_, err = svc.Refresh(ctx, first.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	err = svc.Logout(ctx, auth.Principal{}, first.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))

	p, err := issuer.ParseAccess(second.Access.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, p, ""))
	_, err = svc.Refresh(ctx, second.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	_, err = svc.Refresh(ctx, third.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized), "logout without a token ends every session")

	err = svc.Logout(ctx, auth.Principal{}, "")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

type resetFixture struct {
	svc   *AccountService
	mail  *fakeMailer
	clock *testClock
}

func newResetAccounts(t *testing.T, policy ratelimit.Policy) resetFixture {
	t.Helper()
	db := openDB(t)
	clock := newClock(t0)
	mail := &fakeMailer{}
	svc := NewAccountService(AccountDeps{
		Users:       repository.NewUserRepo(db),
		Tokens:      repository.NewTokenRepo(db),
		Resets:      repository.NewPasswordResetRepo(db),
		Issuer:      auth.NewIssuer("jwt-secret", 15*time.Minute, 30*24*time.Hour, clock.Now),
		Mail:        mail,
		Limiter:     ratelimit.New(ratelimit.NewMemoryStore(clock.Now), "test", nil),
		ResetPolicy: policy,
		FrontendURL: "https://tickets.example.com/",
		ResetTTL:    24 * time.Hour,
		BcryptCost:  4,
		Now:         clock.Now,
	})
	return resetFixture{svc: svc, mail: mail, clock: clock}
}

// mailedToken pulls the reset token out of the last mail sent.
func (f resetFixture) mailedToken(t *testing.T) string {
	t.Helper()
	f.mail.mu.Lock()
	defer f.mail.mu.Unlock()
	require.NotEmpty(t, f.mail.sent)
	text := f.mail.sent[len(f.mail.sent)-1].Text
	link := strings.TrimSpace(text[strings.Index(text, "https://"):])
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/reset-password", u.Path)
	return u.Query().Get("token")
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	f := newResetAccounts(t, ratelimit.Policy{})
	session, err := f.svc.Register(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, " PAT@example.com "))
	token := f.mailedToken(t)
	require.Len(t, token, 64)

	err = f.svc.ResetPassword(ctx, token, "short")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	require.NoError(t, f.svc.ResetPassword(ctx, token, "battery-staple"))
	_, err = f.svc.Login(ctx, "pat@example.com", "correct-horse")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	_, err = f.svc.Login(ctx, "pat@example.com", "battery-staple")
	assert.NoError(t, err)

	_, err = f.svc.Refresh(ctx, session.Refresh.Raw)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized), "a reset ends existing sessions")

	err = f.svc.ResetPassword(ctx, token, "third-password")
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "reset links work once")
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	ctx := context.Background()
	f := newResetAccounts(t, ratelimit.Policy{})

	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com"))
	assert.Empty(t, f.mail.sent)

	err := f.svc.ForgotPassword(ctx, "not-an-email")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestPasswordResetLinkExpires(t *testing.T) {
	ctx := context.Background()
	f := newResetAccounts(t, ratelimit.Policy{})
	_, err := f.svc.Register(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "pat@example.com"))
	token := f.mailedToken(t)

	f.clock.Advance(25 * time.Hour)
	err = f.svc.ResetPassword(ctx, token, "battery-staple")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = f.svc.Login(ctx, "pat@example.com", "correct-horse")
	assert.NoError(t, err)
}

func TestForgotPasswordRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newResetAccounts(t, ratelimit.Policy{Name: "password_reset", Limit: 1, Window: time.Hour})
	_, err := f.svc.Register(ctx, "pat@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "pat@example.com"))
	err = f.svc.ForgotPassword(ctx, "Pat@Example.com")
	assert.True(t, apperr.Is(err, apperr.CodeRateLimited))
	assert.Len(t, f.mail.sent, 1)
}

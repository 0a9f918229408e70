package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

// UserStore is the account table.
type UserStore interface {
	Create(ctx context.Context, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, password string, cost int) error
}

// RefreshStore keeps hashed refresh tokens.
type RefreshStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) error
}

// ResetStore keeps hashed single-use password reset tokens.
type ResetStore interface {
	Store(ctx context.Context, userID uint64, tokenHash string, exp, now time.Time) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
}

// Session is what a successful login, registration or refresh returns.
type Session struct {
	User    model.User
	Access  auth.AccessToken
	Refresh auth.RefreshToken
}

// AccountDeps wires an AccountService. Resets, Mail and FrontendURL are
// needed for the forgot-password flow only.
type AccountDeps struct {
	Users       UserStore
	Tokens      RefreshStore
	Resets      ResetStore
	Issuer      *auth.Issuer
	Mail        Mailer
	Limiter     *ratelimit.Limiter
	ResetPolicy ratelimit.Policy
	FrontendURL string
	ResetTTL    time.Duration
	BcryptCost  int
	Now         func() time.Time
	Log         *logger.Logger
}

// AccountService registers customers, manages their sessions and runs the
// forgot-password flow.
type AccountService struct {
	users       UserStore
	tokens      RefreshStore
	resets      ResetStore
	issuer      *auth.Issuer
	mail        Mailer
	limiter     *ratelimit.Limiter
	resetPolicy ratelimit.Policy
	frontendURL string
	resetTTL    time.Duration
	cost        int
	now         func() time.Time
	log         *logger.Logger
}

// NewAccountService returns an AccountService. A zero ResetTTL means 24h
// and FrontendURL loses any trailing slash.
func NewAccountService(d AccountDeps) *AccountService {
	if d.ResetTTL <= 0 {
		d.ResetTTL = 24 * time.Hour
	}
	return &AccountService{
		users:       d.Users,
		tokens:      d.Tokens,
		resets:      d.Resets,
		issuer:      d.Issuer,
		mail:        d.Mail,
		limiter:     d.Limiter,
		resetPolicy: d.ResetPolicy,
		frontendURL: strings.TrimRight(d.FrontendURL, "/"),
		resetTTL:    d.ResetTTL,
		cost:        d.BcryptCost,
		now:         clockOrDefault(d.Now),
		log:         loggerOrNop(d.Log),
	}
}

// Register creates a customer account. Admins are provisioned out of band.
func (s *AccountService) Register(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return Session{}, apperr.New(apperr.CodeValidation, "a valid email is required")
	}
	id, err := s.users.Create(ctx, email, password, model.RoleCustomer, s.cost)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		return Session{}, apperr.Wrap(apperr.CodeValidation, err, auth.ErrWeakPassword.Error())
	case errors.Is(err, repository.ErrEmailExists):
		return Session{}, apperr.New(apperr.CodeConflict, "email already exists")
	case err != nil:
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "create user")
	}
	u := model.User{ID: id, Email: email, Role: model.RoleCustomer, IsActive: true}
	s.log.Info(s.log.WithUserID(ctx, id), "customer registered")
	return s.open(ctx, u)
}

// Login checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *AccountService) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, apperr.New(apperr.CodeValidation, "email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "load user")
	}
	if !u.IsActive || !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}
	return s.open(ctx, u)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *AccountService) Refresh(ctx context.Context, raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, apperr.New(apperr.CodeValidation, "refresh_token is required")
	}
	hash := auth.HashToken(raw)
	now := s.now()
	userID, err := s.tokens.ValidateRefresh(ctx, hash, now)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, apperr.New(apperr.CodeUnauthorized, "invalid refresh token")
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "validate refresh token")
	}
	if err := s.tokens.RevokeByHash(ctx, hash, now); err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "revoke refresh token")
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, apperr.New(apperr.CodeUnauthorized, "invalid refresh token")
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "load user")
	}
	return s.open(ctx, u)
}

// Logout revokes one session when a refresh token is given, otherwise
// every session of the authenticated caller.
func (s *AccountService) Logout(ctx context.Context, p auth.Principal, raw string) error {
	raw = strings.TrimSpace(raw)
	now := s.now()
	if raw != "" {
		hash := auth.HashToken(raw)
		if _, err := s.tokens.ValidateRefresh(ctx, hash, now); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.New(apperr.CodeUnauthorized, "invalid refresh token")
			}
			return apperr.Wrap(apperr.CodeInternal, err, "validate refresh token")
		}
		if err := s.tokens.RevokeByHash(ctx, hash, now); err != nil {
			return apperr.Wrap(apperr.CodeInternal, err, "revoke refresh token")
		}
		return nil
	}
	if !p.Authenticated() {
		return apperr.New(apperr.CodeValidation, "provide an access token or refresh_token")
	}
	if err := s.tokens.RevokeAllForUser(ctx, p.UserID, now); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "revoke sessions")
	}
	s.log.Info(s.log.WithUserID(ctx, p.UserID), "all sessions revoked")
	return nil
}

// Me returns the caller's account.
func (s *AccountService) Me(ctx context.Context, p auth.Principal) (model.User, error) {
	if !p.Authenticated() {
		return model.User{}, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.New(apperr.CodeUnauthorized, "account no longer exists")
	}
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.CodeInternal, err, "load user")
	}
	return u, nil
}

// ForgotPassword mails a single-use reset link when email belongs to an
// active account. The caller cannot tell whether it did.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return apperr.New(apperr.CodeValidation, "a valid email is required")
	}
	if err := enforce(ctx, s.limiter, s.resetPolicy, email); err != nil {
		return err
	}
	if s.resets == nil || s.mail == nil {
		return apperr.New(apperr.CodeDependency, "password reset is not configured")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "load user")
	}
	if !u.IsActive {
		return nil
	}
	ctx = s.log.WithUserID(ctx, u.ID)

	raw, err := auth.NewResetToken()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "generate reset token")
	}
	now := s.now().UTC()
	exp := now.Add(s.resetTTL)
	if err := s.resets.Store(ctx, u.ID, auth.HashToken(raw), exp, now); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "store reset token")
	}
	msg, err := mailer.PasswordResetMessage(u.Email, mailer.PasswordReset{
		URL:       s.frontendURL + "/reset-password?token=" + raw,
		ExpiresAt: exp,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "render reset mail")
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "send reset mail")
	}
	s.log.Info(ctx, "password reset mailed")
	return nil
}

// ResetPassword sets a new password from a mailed token and ends every
// existing session of the account.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return apperr.New(apperr.CodeValidation, "token and password are required")
	}
	if len(password) < auth.MinPasswordLength {
		return apperr.Wrap(apperr.CodeValidation, auth.ErrWeakPassword, auth.ErrWeakPassword.Error())
	}
	if s.resets == nil {
		return apperr.New(apperr.CodeDependency, "password reset is not configured")
	}
	now := s.now().UTC()
	userID, err := s.resets.Consume(ctx, auth.HashToken(token), now)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodeValidation, "reset link is invalid or expired")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "consume reset token")
	}
	ctx = s.log.WithUserID(ctx, userID)
	if err := s.users.UpdatePassword(ctx, userID, password, s.cost); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeValidation, "reset link is invalid or expired")
		}
		return apperr.Wrap(apperr.CodeInternal, err, "update password")
	}
	if err := s.tokens.RevokeAllForUser(ctx, userID, now); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "revoke sessions")
	}
	s.log.Info(ctx, "password reset")
	return nil
}

func (s *AccountService) open(ctx context.Context, u model.User) (Session, error) {
	access, err := s.issuer.IssueAccess(auth.Principal{UserID: u.ID, Role: u.Role, Email: u.Email})
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "issue access token")
	}
	refresh, err := s.issuer.NewRefresh()
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "issue refresh token")
	}
	if err := s.tokens.StoreRefresh(ctx, u.ID, auth.HashToken(refresh.Raw), refresh.Exp); err != nil {
		return Session{}, apperr.Wrap(apperr.CodeInternal, err, "store refresh token")
	}
	u.PasswordHash = ""
	return Session{User: u, Access: access, Refresh: refresh}, nil
}

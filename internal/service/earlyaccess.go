package service

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
)

// EarlyAccessDeps wires an EarlyAccess checker.
type EarlyAccessDeps struct {
	Config  config.EarlyAccessConfig
	Events  EventStore
	Limiter *ratelimit.Limiter
	Policy  ratelimit.Policy
	Log     *logger.Logger
}

// EarlyAccess checks pre-sale passphrases. Passphrases are configured as
// bcrypt hashes keyed by kind; a showtime's pre-sale passcode is the
// passphrase of its recital type. Guesses are capped per client IP.
type EarlyAccess struct {
	cfg     config.EarlyAccessConfig
	events  EventStore
	limiter *ratelimit.Limiter
	policy  ratelimit.Policy
	log     *logger.Logger
}

// NewEarlyAccess returns an EarlyAccess checker.
func NewEarlyAccess(d EarlyAccessDeps) *EarlyAccess {
	return &EarlyAccess{
		cfg:     d.Config,
		events:  d.Events,
		limiter: d.Limiter,
		policy:  d.Policy,
		log:     loggerOrNop(d.Log),
	}
}

// Verify checks passphrase against the one configured for kind. A kind
// with no passphrase is NotFound; a wrong passphrase is Unauthorized.
func (s *EarlyAccess) Verify(ctx context.Context, kind, passphrase string, meta auth.RequestMeta) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || passphrase == "" {
		return apperr.New(apperr.CodeValidation, "type and passphrase are required")
	}
	if err := enforce(ctx, s.limiter, s.policy, meta.IP); err != nil {
		return err
	}
	hash, ok := s.cfg.Hash(kind)
	if !ok {
		return apperr.New(apperr.CodeNotFound, "no passphrase for "+kind)
	}
	if !auth.CheckPassword(hash, passphrase) {
		s.log.Info(s.log.WithFields(ctx, map[string]any{"kind": kind, "ip": meta.IP}), "early access passphrase rejected")
		return apperr.New(apperr.CodeUnauthorized, "incorrect passphrase")
	}
	return nil
}

// VerifyForEvent checks a pre-sale passcode for one showtime.
func (s *EarlyAccess) VerifyForEvent(ctx context.Context, eventID uint64, passcode string, meta auth.RequestMeta) error {
	if passcode == "" {
		return apperr.New(apperr.CodeValidation, "passcode is required")
	}
	ev, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, "event not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "load event")
	}
	return s.Verify(ctx, string(ev.RecitalType), passcode, meta)
}

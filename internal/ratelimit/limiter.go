// Package ratelimit enforces fixed-window caps on the payment-link and
// access-code surfaces. Counters live in Redis so every API instance shares
// them; an in-process store stands in when Redis is unavailable.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

// Policy is one named cap: at most Limit hits per Window for a subject.
type Policy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

func (p Policy) enabled() bool { return p.Limit > 0 && p.Window > 0 }

// Policies groups the caps applied by the services.
type Policies struct {
	LinkValidation Policy // per client IP
	PaymentAttempt Policy // per payment-link token
	LinkCreation   Policy // per admin
	AccessCode     Policy // per client IP
	EarlyAccess    Policy // per client IP
	PasswordReset  Policy // per email
}

// PoliciesFrom builds the policy set from configuration.
func PoliciesFrom(cfg config.RateLimitConfig) Policies {
	return Policies{
		LinkValidation: Policy{Name: "link_validation", Limit: int64(cfg.LinkValidationMax), Window: cfg.LinkValidationWindow},
		PaymentAttempt: Policy{Name: "payment_attempt", Limit: int64(cfg.PaymentAttemptMax), Window: cfg.PaymentAttemptWindow},
		LinkCreation:   Policy{Name: "link_creation", Limit: int64(cfg.LinkCreationMax), Window: cfg.LinkCreationWindow},
		AccessCode:     Policy{Name: "access_code", Limit: int64(cfg.AccessCodeMax), Window: cfg.AccessCodeWindow},
		EarlyAccess:    Policy{Name: "early_access", Limit: int64(cfg.EarlyAccessMax), Window: cfg.EarlyAccessWindow},
		PasswordReset:  Policy{Name: "password_reset", Limit: int64(cfg.PasswordResetMax), Window: cfg.PasswordResetWindow},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// Store increments a counter, starting its window on the first hit, and
// reports the time left in the window.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter applies policies against a Store.
type Limiter struct {
	store  Store
	prefix string
	log    *logger.Logger
}

func New(store Store, prefix string, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.Nop()
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{store: store, prefix: prefix, log: log}
}

// Allow counts one hit for subject under p. Store errors fail open: the
// hit is allowed and the error is logged.
func (l *Limiter) Allow(ctx context.Context, p Policy, subject string) (Decision, error) {
	if l == nil || l.store == nil || !p.enabled() {
		return Decision{Allowed: true, Limit: p.Limit}, nil
	}
	key := l.key(p, subject)
	count, ttl, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		l.log.Warn(l.log.WithFields(ctx, map[string]any{"policy": p.Name, "error": err.Error()}), "rate limit store unavailable")
		return Decision{Allowed: true, Limit: p.Limit}, nil
	}
	d := Decision{Allowed: count <= p.Limit, Count: count, Limit: p.Limit}
	if !d.Allowed {
		d.RetryAfter = ttl
		if d.RetryAfter <= 0 {
			d.RetryAfter = p.Window
		}
	}
	return d, nil
}

func (l *Limiter) key(p Policy, subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		subject = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s", l.prefix, p.Name, subject)
}

package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/iliyamo/recital-box-office/internal/apperr"
	"github.com/iliyamo/recital-box-office/internal/auth"
	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/ratelimit"
	"github.com/iliyamo/recital-box-office/internal/repository"
	"github.com/iliyamo/recital-box-office/internal/storage"
)

// AccessCodeService mints DVL access codes and turns a valid code into
// short-lived video URLs.
type AccessCodeService interface {
	Generate(ctx context.Context) (string, error)
	Assign(ctx context.Context, orderID uint64) (string, error)
	Validate(ctx context.Context, code string, meta auth.RequestMeta) (Entitlement, error)
	IssueVideoURLs(ctx context.Context, code, variant string, meta auth.RequestMeta) (VideoURLs, error)
	DownloadHistory(ctx context.Context, p auth.Principal, code string) ([]model.AccessLog, error)
}

// AccessCodeStore is the slice of the order repository that code lookup,
// assignment and entitlement resolution need.
type AccessCodeStore interface {
	GetByID(ctx context.Context, id uint64) (model.Order, error)
	GetByAccessCode(ctx context.Context, code string) (model.Order, error)
	AccessCodeExists(ctx context.Context, code string) (bool, error)
	AssignAccessCode(ctx context.Context, orderID uint64, code string) error
	RecitalTypesForCustomer(ctx context.Context, userID *uint64, email string) ([]model.RecitalType, error)
}

// URLSigner produces time-limited download URLs for stored media.
type URLSigner interface {
	Sign(name string) (storage.SignedURL, error)
}

const (
	codePrefix      = "DVL"
	codeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxCodeAttempts = 8

	VariantFull    = "full"
	VariantMorning = "morning"
	VariantEvening = "evening"
)

var videoQualities = []string{"1080p", "720p"}

// Entitlement is what a valid code unlocks.
type Entitlement struct {
	OrderID      uint64            `json:"-"`
	CustomerName string            `json:"-"`
	RecitalType  model.RecitalType `json:"recitalType"`
}

// Covers reports whether the entitlement includes the requested variant.
func (e Entitlement) Covers(variant string) bool {
	switch variant {
	case VariantFull:
		return true
	case VariantMorning, VariantEvening:
		return e.RecitalType == model.RecitalBoth || string(e.RecitalType) == variant
	}
	return false
}

// VideoURL is one signed download link for a recording variant and quality.
type VideoURL struct {
	Variant string `json:"variant"`
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// VideoURLs is the response to a successful URL request. Every URL in it
// stops working at ExpiresAt.
type VideoURLs struct {
	RecitalType model.RecitalType `json:"recitalType"`
	URLs        []VideoURL        `json:"urls"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// AccessCodeDeps wires an AccessCodes service. Limiter may be nil, which
// disables the per-IP caps.
type AccessCodeDeps struct {
	Orders   AccessCodeStore
	Logs     AccessLogStore
	Signer   URLSigner
	Limiter  *ratelimit.Limiter
	Policies ratelimit.Policies
	Now      func() time.Time
	Log      *logger.Logger
}

// AccessCodes issues DVL codes, validates them for the public video pages
// and signs the media URLs a valid code unlocks. Every validation and URL
// issue is appended to the access log.
type AccessCodes struct {
	orders   AccessCodeStore
	logs     AccessLogStore
	signer   URLSigner
	limiter  *ratelimit.Limiter
	policies ratelimit.Policies
	now      func() time.Time
	log      *logger.Logger
	audit    auditor
}

// NewAccessCodes returns an AccessCodes service with defaults filled in.
func NewAccessCodes(d AccessCodeDeps) *AccessCodes {
	now := clockOrDefault(d.Now)
	log := loggerOrNop(d.Log)
	return &AccessCodes{
		orders:   d.Orders,
		logs:     d.Logs,
		signer:   d.Signer,
		limiter:  d.Limiter,
		policies: d.Policies,
		now:      now,
		log:      log,
		audit:    auditor{store: d.Logs, now: now, log: log},
	}
}

// NormalizeCode trims and upper-cases a code typed by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// newCode builds DVL-<year>-XXXX9999 from crypto/rand.
func newCode(year int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s-%d-", codePrefix, year)
	for i := 0; i < 8; i++ {
		max := int64(len(codeAlphabet))
		if i >= 4 {
			max = 10
		}
		n, err := rand.Int(rand.Reader, big.NewInt(max))
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Generate returns a code not yet used by any order. The unique index on
// orders.access_code remains the final arbiter.
func (s *AccessCodes) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := newCode(s.now().Year())
		if err != nil {
			return "", apperr.Wrap(apperr.CodeInternal, err, "generate access code")
		}
		taken, err := s.orders.AccessCodeExists(ctx, code)
		if err != nil {
			return "", apperr.Wrap(apperr.CodeInternal, err, "check access code")
		}
		if !taken {
			return code, nil
		}
	}
	return "", apperr.New(apperr.CodeInternal, "could not generate a unique access code")
}

// Assign gives an order a fresh code, or returns the code it already has.
func (s *AccessCodes) Assign(ctx context.Context, orderID uint64) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.Generate(ctx)
		if err != nil {
			return "", err
		}
		err = s.orders.AssignAccessCode(ctx, orderID, code)
		switch {
		case err == nil:
			return code, nil
		case errors.Is(err, repository.ErrDuplicate):
			continue
		case errors.Is(err, repository.ErrConflict):
			o, err := s.orders.GetByID(ctx, orderID)
			if err != nil {
				return "", apperr.Wrap(apperr.CodeInternal, err, "load order")
			}
			return *o.AccessCode, nil
		case errors.Is(err, repository.ErrNotFound):
			return "", apperr.New(apperr.CodeNotFound, "order not found")
		default:
			return "", apperr.Wrap(apperr.CodeInternal, err, "assign access code")
		}
	}
	return "", apperr.New(apperr.CodeInternal, "could not assign a unique access code")
}

// Validate checks a code without touching the order. Codes are reusable.
func (s *AccessCodes) Validate(ctx context.Context, code string, meta auth.RequestMeta) (Entitlement, error) {
	if err := enforce(ctx, s.limiter, s.policies.AccessCode, meta.IP); err != nil {
		return Entitlement{}, err
	}
	code = NormalizeCode(code)
	ent, err := s.resolve(ctx, code, meta)
	if err != nil {
		return Entitlement{}, err
	}
	s.audit.record(ctx, model.AccessLog{
		OrderID:    u64(ent.OrderID),
		AccessCode: str(code),
		Action:     model.ActionCodeValidated,
		Details:    map[string]any{"recital_type": string(ent.RecitalType)},
	}, meta)
	return ent, nil
}

// IssueVideoURLs signs download URLs for variant in every quality. The
// URLs are returned only; nothing about them is stored.
func (s *AccessCodes) IssueVideoURLs(ctx context.Context, code, variant string, meta auth.RequestMeta) (VideoURLs, error) {
	if err := enforce(ctx, s.limiter, s.policies.AccessCode, meta.IP); err != nil {
		return VideoURLs{}, err
	}
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" {
		variant = VariantFull
	}
	if variant != VariantFull && variant != VariantMorning && variant != VariantEvening {
		return VideoURLs{}, apperr.New(apperr.CodeValidation, "videoType must be full, morning or evening")
	}
	code = NormalizeCode(code)
	ent, err := s.resolve(ctx, code, meta)
	if err != nil {
		return VideoURLs{}, err
	}
	if !ent.Covers(variant) {
		s.reject(ctx, code, &ent.OrderID, "variant_not_covered", meta)
		return VideoURLs{}, apperr.New(apperr.CodeNotEligible, "access code does not cover this recital")
	}

	out := VideoURLs{RecitalType: ent.RecitalType}
	for _, q := range videoQualities {
		signed, err := s.signer.Sign(fmt.Sprintf("%s-%s.mp4", variant, q))
		if err != nil {
			return VideoURLs{}, apperr.Wrap(apperr.CodeInternal, err, "sign video url")
		}
		out.URLs = append(out.URLs, VideoURL{Variant: variant, Quality: q, URL: signed.URL})
		out.ExpiresAt = signed.ExpiresAt
	}
	s.audit.record(ctx, model.AccessLog{
		OrderID:    u64(ent.OrderID),
		AccessCode: str(code),
		Action:     model.ActionVideoURLsIssued,
		Details:    map[string]any{"variant": variant, "count": len(out.URLs)},
	}, meta)
	return out, nil
}

// DownloadHistory lists the audit trail of a code for admins.
func (s *AccessCodes) DownloadHistory(ctx context.Context, p auth.Principal, code string) ([]model.AccessLog, error) {
	if !p.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	entries, err := s.logs.ListByAccessCode(ctx, NormalizeCode(code), 200)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "list access log")
	}
	return entries, nil
}

func (s *AccessCodes) resolve(ctx context.Context, code string, meta auth.RequestMeta) (Entitlement, error) {
	if code == "" {
		return Entitlement{}, apperr.New(apperr.CodeValidation, "access code is required")
	}
	o, err := s.orders.GetByAccessCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		s.reject(ctx, code, nil, "not_found", meta)
		return Entitlement{}, apperr.New(apperr.CodeNotFound, "invalid access code")
	}
	if err != nil {
		return Entitlement{}, apperr.Wrap(apperr.CodeInternal, err, "load order by access code")
	}
	if !o.HasDigitalEntitlement() || o.Status == model.OrderFailed {
		s.reject(ctx, code, &o.ID, "no_digital_entitlement", meta)
		return Entitlement{}, apperr.New(apperr.CodeNotEligible, "access code has no digital entitlement")
	}
	if o.MediaStatus != model.MediaStatusFulfilled {
		s.reject(ctx, code, &o.ID, "media_pending", meta)
		return Entitlement{}, apperr.New(apperr.CodeNotReady, "videos are not available yet")
	}

	types, err := s.orders.RecitalTypesForCustomer(ctx, o.UserID, o.CustomerEmail)
	if err != nil {
		return Entitlement{}, apperr.Wrap(apperr.CodeInternal, err, "resolve recital type")
	}
	rt := model.RecitalBoth
	if len(types) == 1 {
		rt = types[0]
	}
	return Entitlement{OrderID: o.ID, CustomerName: o.CustomerName, RecitalType: rt}, nil
}

func (s *AccessCodes) reject(ctx context.Context, code string, orderID *uint64, reason string, meta auth.RequestMeta) {
	s.log.Info(s.log.WithFields(ctx, map[string]any{"access_code": code, "reason": reason}), "access code rejected")
	s.audit.record(ctx, model.AccessLog{
		OrderID:    orderID,
		AccessCode: str(code),
		Action:     model.ActionCodeRejected,
		Details:    map[string]any{"reason": reason},
	}, meta)
}

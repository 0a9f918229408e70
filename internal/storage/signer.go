// Package storage builds time-limited download URLs for recorded media.
// The media host validates the HS256 token in the query string against the
// shared signing key.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/recital-box-office/internal/config"
)

var ErrInvalidToken = errors.New("invalid media token")

type mediaClaims struct {
	Bucket string `json:"bkt"`
	Object string `json:"obj"`
	jwt.RegisteredClaims
}

// SignedURL is a download URL and the moment it stops working.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

type Signer struct {
	baseURL string
	bucket  string
	prefix  string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(cfg config.StorageConfig, now func() time.Time) (*Signer, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("storage: signing key required")
	}
	if now == nil {
		now = time.Now
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.PathPrefix, "/"),
		key:     []byte(cfg.SigningKey),
		ttl:     ttl,
		now:     now,
	}, nil
}

// TTL is how long issued URLs stay valid.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign returns a URL for name under the configured prefix.
func (s *Signer) Sign(name string) (SignedURL, error) {
	object := path.Join(s.prefix, strings.TrimLeft(name, "/"))
	issued := s.now().UTC()
	exp := issued.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, mediaClaims{
		Bucket: s.bucket,
		Object: object,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return SignedURL{}, err
	}
	u := fmt.Sprintf("%s/%s/%s?token=%s", s.baseURL, url.PathEscape(s.bucket), object, url.QueryEscape(signed))
	return SignedURL{URL: u, ExpiresAt: exp}, nil
}

// Verify checks a token issued by Sign and returns the object it grants.
func (s *Signer) Verify(token string) (string, error) {
	var claims mediaClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Bucket != s.bucket {
		return "", ErrInvalidToken
	}
	return claims.Object, nil
}

package config

import "time"

// RateLimitConfig holds the global token bucket applied to every API route
// and the fixed-window caps guarding payment links, access codes,
// pre-sale passphrases and password resets.
type RateLimitConfig struct {
	Enabled        bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Capacity       int           `envconfig:"RATE_LIMIT_CAPACITY" default:"60"`
	RefillTokens   int           `envconfig:"RATE_LIMIT_REFILL_TOKENS" default:"1"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	TTL            time.Duration `envconfig:"RATE_LIMIT_TTL" default:"10m"`
	KeyStrategy    string        `envconfig:"RATE_LIMIT_KEY_STRATEGY" default:"ip_user_route"`
	Prefix         string        `envconfig:"RATE_LIMIT_PREFIX" default:"rl"`
	Debug          bool          `envconfig:"RATE_LIMIT_DEBUG" default:"false"`

	LinkValidationMax    int           `envconfig:"RATE_LIMIT_LINK_VALIDATION_MAX" default:"10"`
	LinkValidationWindow time.Duration `envconfig:"RATE_LIMIT_LINK_VALIDATION_WINDOW" default:"15m"`
	PaymentAttemptMax    int           `envconfig:"RATE_LIMIT_PAYMENT_ATTEMPT_MAX" default:"5"`
	PaymentAttemptWindow time.Duration `envconfig:"RATE_LIMIT_PAYMENT_ATTEMPT_WINDOW" default:"1h"`
	LinkCreationMax      int           `envconfig:"RATE_LIMIT_LINK_CREATION_MAX" default:"20"`
	LinkCreationWindow   time.Duration `envconfig:"RATE_LIMIT_LINK_CREATION_WINDOW" default:"1h"`
	AccessCodeMax        int           `envconfig:"RATE_LIMIT_ACCESS_CODE_MAX" default:"10"`
	AccessCodeWindow     time.Duration `envconfig:"RATE_LIMIT_ACCESS_CODE_WINDOW" default:"15m"`
	EarlyAccessMax       int           `envconfig:"RATE_LIMIT_EARLY_ACCESS_MAX" default:"10"`
	EarlyAccessWindow    time.Duration `envconfig:"RATE_LIMIT_EARLY_ACCESS_WINDOW" default:"15m"`
	PasswordResetMax     int           `envconfig:"RATE_LIMIT_PASSWORD_RESET_MAX" default:"3"`
	PasswordResetWindow  time.Duration `envconfig:"RATE_LIMIT_PASSWORD_RESET_WINDOW" default:"1h"`
}

func (c *RateLimitConfig) normalize() {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
}

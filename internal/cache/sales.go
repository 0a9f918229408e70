package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/model"
)

const salesKey = "sales:totals:v1"

// SalesLoader computes fresh totals from the database.
type SalesLoader func(ctx context.Context) (model.SalesTotals, error)

// SalesCache is a read-through cache for the admin sales totals. Entries
// expire after the configured TTL and are dropped whenever an order is
// written, so the dashboard is at most one TTL stale and usually fresh.
type SalesCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *logger.Logger
}

func NewSalesCache(store Store, ttl time.Duration, now func() time.Time, log *logger.Logger) *SalesCache {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SalesCache{store: store, ttl: ttl, now: now, log: log}
}

// Get returns cached totals, or loads, stores and returns fresh ones. Cache
// failures degrade to a direct load. The bool reports a cache hit.
func (c *SalesCache) Get(ctx context.Context, load SalesLoader) (model.SalesTotals, bool, error) {
	if c.store != nil {
		raw, err := c.store.Get(ctx, salesKey)
		switch {
		case err == nil:
			var totals model.SalesTotals
			if jerr := json.Unmarshal(raw, &totals); jerr == nil {
				return totals, true, nil
			}
		case !errors.Is(err, ErrMiss):
			c.log.Warn(c.log.WithField(ctx, "error", err.Error()), "sales cache read failed")
		}
	}

	totals, err := load(ctx)
	if err != nil {
		return model.SalesTotals{}, false, err
	}
	totals.ComputedAt = c.now().UTC()
	if c.store != nil {
		if raw, jerr := json.Marshal(totals); jerr == nil {
			if err := c.store.Set(ctx, salesKey, raw, c.ttl); err != nil {
				c.log.Warn(c.log.WithField(ctx, "error", err.Error()), "sales cache write failed")
			}
		}
	}
	return totals, false, nil
}

// Invalidate drops the cached totals.
func (c *SalesCache) Invalidate(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Del(ctx, salesKey); err != nil {
		c.log.Warn(c.log.WithField(ctx, "error", err.Error()), "sales cache invalidate failed")
	}
}

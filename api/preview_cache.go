package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/warp/rate-engine/rates"
)

// PreviewRecord is what a preview token remembers: the exact request that
// was previewed and what it predicted.
type PreviewRecord struct {
	ID           string
	Filter       rates.Filter
	Instructions rates.Instructions
	Result       rates.PreviewResult
	ExpiresAt    time.Time
}

// PreviewCache holds previews between POST /bulk/preview and
// POST /bulk/apply. A token is consumed by apply or cancel, or expires.
type PreviewCache struct {
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time

	mu sync.Mutex // serialises Take
}

func NewPreviewCache(ttl time.Duration) *PreviewCache {
	return &PreviewCache{
		items: cache.New(ttl, 2*ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores a preview and returns it with its token and expiry set.
func (c *PreviewCache) Put(filter rates.Filter, in rates.Instructions, result rates.PreviewResult) PreviewRecord {
	rec := PreviewRecord{
		ID:           uuid.NewString(),
		Filter:       filter,
		Instructions: in,
		Result:       result,
		ExpiresAt:    c.now().Add(c.ttl),
	}
	c.items.Set(rec.ID, rec, c.ttl)
	return rec
}

// Take removes and returns a preview. Only one caller can take a token.
func (c *PreviewCache) Take(id string) (PreviewRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, found := c.items.Get(id)
	if !found {
		return PreviewRecord{}, false
	}
	c.items.Delete(id)
	return v.(PreviewRecord), true
}

// Restore puts back a taken preview whose apply failed, keeping its
// original expiry. Already expired records are dropped.
func (c *PreviewCache) Restore(rec PreviewRecord) {
	if ttl := rec.ExpiresAt.Sub(c.now()); ttl > 0 {
		c.items.Set(rec.ID, rec, ttl)
	}
}

// Cancel discards a preview and reports whether it existed.
func (c *PreviewCache) Cancel(id string) bool {
	_, found := c.Take(id)
	return found
}

func (c *PreviewCache) Len() int { return c.items.ItemCount() }

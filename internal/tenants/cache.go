package tenants

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// DefaultCredentialTTL bounds how long a decrypted credential set is reused.
const DefaultCredentialTTL = 2 * time.Minute

const defaultCacheSize = 256

// CachedSource memoizes decrypted credentials per tenant for a short TTL.
// Entries are keyed by tenant id only, so one tenant can never be served
// another tenant's credentials. Integration listings are not cached.
type CachedSource struct {
	src   Source
	creds *expirable.LRU[string, erp.Credentials]
}

// NewCachedSource wraps src. A non-positive ttl uses DefaultCredentialTTL.
func NewCachedSource(src Source, size int, ttl time.Duration) *CachedSource {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CachedSource{src: src, creds: expirable.NewLRU[string, erp.Credentials](size, nil, ttl)}
}

// Integrations always reads through to the underlying source.
func (c *CachedSource) Integrations(ctx context.Context, tenantID string) ([]Integration, error) {
	return c.src.Integrations(ctx, tenantID)
}

// Credentials returns cached credentials or loads and caches them.
// Failures are never cached.
func (c *CachedSource) Credentials(ctx context.Context, tenantID string) (erp.Credentials, error) {
	if creds, ok := c.creds.Get(tenantID); ok {
		return creds, nil
	}
	creds, err := c.src.Credentials(ctx, tenantID)
	if err != nil {
		return erp.Credentials{}, err
	}
	c.creds.Add(tenantID, creds)
	log.Debug().Str("tenant", tenantID).Msg("credentials loaded")
	return creds, nil
}

// Invalidate drops the cached credentials of one tenant.
func (c *CachedSource) Invalidate(tenantID string) { c.creds.Remove(tenantID) }

// Purge drops every cached entry.
func (c *CachedSource) Purge() { c.creds.Purge() }

// Len returns the number of cached tenants.
func (c *CachedSource) Len() int { return c.creds.Len() }

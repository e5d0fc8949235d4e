package secrets

import (
	"context"
	"time"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/patrickmn/go-cache"
)

// CachedSecretManager keeps retrieved secrets for a TTL in front of another manager
type CachedSecretManager struct {
	next   ports.SecretManager
	cache  *cache.Cache
	logger ports.Logger
}

var _ ports.SecretManager = (*CachedSecretManager)(nil)

// NewCachedSecretManager wraps next with a TTL cache
func NewCachedSecretManager(next ports.SecretManager, ttl time.Duration, logger ports.Logger) *CachedSecretManager {
	return &CachedSecretManager{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// GetSecret serves path from the cache, falling through on a miss
func (c *CachedSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached, ok := c.cache.Get(path); ok {
		c.logger.Debug("secret retrieved from cache", ports.String("path", path))
		return cached.(*ports.Secret), nil
	}

	secret, err := c.next.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(path, secret)
	return secret, nil
}

// Invalidate drops path so the next read goes to the backing manager
func (c *CachedSecretManager) Invalidate(path string) {
	c.cache.Delete(path)
}

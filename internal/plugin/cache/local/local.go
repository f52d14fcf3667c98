// Package local is an in-process participants cache backed by ristretto.
package local

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.ParticipantsCache, error) {
			maxEntries := int64(100_000)
			ttl := defaultTTL
			if cfg := config.FromContext(ctx); cfg != nil {
				if cfg.CacheMaxEntries > 0 {
					maxEntries = cfg.CacheMaxEntries
				}
				if cfg.CacheTTL > 0 {
					ttl = cfg.CacheTTL
				}
			}
			return New(maxEntries, ttl)
		},
	})
}

// Cache holds participant sets in process memory. Each entry costs one unit, so
// maxEntries bounds the number of cached conversations.
type Cache struct {
	cache *ristretto.Cache[string, []uuid.UUID]
	ttl   time.Duration
}

// New creates a Cache.
func New(maxEntries int64, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("local cache: max entries must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []uuid.UUID]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{cache: c, ttl: ttl}, nil
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	ids, ok := c.cache.Get(conversationID.String())
	if !ok {
		return nil, nil
	}
	return slices.Clone(ids), nil
}

func (c *Cache) Set(_ context.Context, conversationID uuid.UUID, participants []uuid.UUID, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(conversationID.String(), slices.Clone(participants), 1, ttl)
	// Make the write visible to the next Get.
	c.cache.Wait()
	return nil
}

func (c *Cache) Remove(_ context.Context, conversationID uuid.UUID) error {
	c.cache.Del(conversationID.String())
	return nil
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() error {
	c.cache.Close()
	return nil
}

var _ registrycache.ParticipantsCache = (*Cache)(nil)

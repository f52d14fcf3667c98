// Package redis caches conversation participants as Redis sets.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	defaultTTL = 10 * time.Minute
	keyPrefix  = "chat:participants:"
)

func init() {
	registrycache.Register(registrycache.Plugin{Name: "redis", Loader: load})
}

func load(ctx context.Context) (registrycache.ParticipantsCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	return Dial(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// Dial connects to redisURL and verifies the server answers PING.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping %s: %w", opts.Addr, err)
	}
	return &Cache{client: client, ttl: lo.Ternary(ttl > 0, ttl, defaultTTL)}, nil
}

// Cache stores one set per conversation. An empty or missing set is a miss, which is
// safe because every conversation has at least its creator.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ registrycache.ParticipantsCache = (*Cache)(nil)

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	members, err := c.client.SMembers(ctx, keyPrefix+conversationID.String()).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("redis cache: corrupt member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Cache) Set(ctx context.Context, conversationID uuid.UUID, participants []uuid.UUID, ttl time.Duration) error {
	if len(participants) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	key := keyPrefix + conversationID.String()
	members := lo.Map(participants, func(id uuid.UUID, _ int) any { return id.String() })
	_, err := c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.SAdd(ctx, key, members...)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (c *Cache) Remove(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, keyPrefix+conversationID.String()).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error { return c.client.Close() }

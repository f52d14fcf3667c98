package noop

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ParticipantsCache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that never holds anything.
func New() cache.ParticipantsCache { return &noopParticipantsCache{} }

type noopParticipantsCache struct{}

func (n *noopParticipantsCache) Available() bool { return false }
func (n *noopParticipantsCache) Get(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (n *noopParticipantsCache) Set(_ context.Context, _ uuid.UUID, _ []uuid.UUID, _ time.Duration) error {
	return nil
}
func (n *noopParticipantsCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.ParticipantsCache = (*noopParticipantsCache)(nil)

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ParticipantsCache caches the participant ids of conversations. Participant sets never
// change after creation, so entries only need removal when a conversation is deleted.
type ParticipantsCache interface {
	Available() bool
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	// Set stores participants; a zero ttl uses the cache default.
	Set(ctx context.Context, conversationID uuid.UUID, participants []uuid.UUID, ttl time.Duration) error
	Remove(ctx context.Context, conversationID uuid.UUID) error
}

// Loader builds a cache from the config carried on ctx.
type Loader func(ctx context.Context) (ParticipantsCache, error)

// Plugin is a named cache backend selectable with --cache-kind.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register makes a backend selectable; backends call it from init.
func Register(p Plugin) { plugins = append(plugins, p) }

// Names lists registered backends in registration order.
func Names() []string {
	return lo.Map(plugins, func(p Plugin, _ int) string { return p.Name })
}

// Select looks up a backend by name.
func Select(name string) (Loader, error) {
	p, ok := lo.Find(plugins, func(p Plugin) bool { return p.Name == name })
	if !ok {
		return nil, fmt.Errorf("cache kind %q is not registered (have %v)", name, Names())
	}
	return p.Loader, nil
}

package migrate

import (
	"context"
	"fmt"
	"slices"
)

// Migrator brings one backend's schema up to date. Implementations return nil without
// doing anything when their backend is not the configured datastore.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a migrator with an order for a deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names lists the registered migrators in execution order.
func Names() []string {
	names := make([]string, 0, len(plugins))
	for _, p := range ordered() {
		names = append(names, p.Migrator.Name())
	}
	return names
}

func ordered() []Plugin {
	sorted := slices.Clone(plugins)
	slices.SortStableFunc(sorted, func(a, b Plugin) int { return a.Order - b.Order })
	return sorted
}

// RunAll executes all registered migrators sorted by Order.
func RunAll(ctx context.Context) error {
	for _, p := range ordered() {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}

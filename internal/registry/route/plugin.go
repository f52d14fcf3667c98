package route

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts routes on a gin router.
type RouterLoader func(r gin.IRouter) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the public API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, metrics).
	// Without a dedicated management listener these are mounted on the main server.
	RouteTypeManagement
)

// Plugin is a set of routes with an order for a deterministic mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Loaders returns the loaders of the given type, sorted by order.
func Loaders(t RouteType) []RouterLoader {
	matching := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Type == t {
			matching = append(matching, p)
		}
	}
	slices.SortStableFunc(matching, func(a, b Plugin) int { return a.Order - b.Order })
	loaders := make([]RouterLoader, len(matching))
	for i, p := range matching {
		loaders[i] = p.Loader
	}
	return loaders
}

// MountAll mounts every loader of type t on r.
func MountAll(r gin.IRouter, t RouteType) error {
	for _, load := range Loaders(t) {
		if err := load(r); err != nil {
			return err
		}
	}
	return nil
}

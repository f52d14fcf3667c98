package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-service/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that the store is open and the API routes are mounted.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness back off, e.g. while draining on shutdown.
func MarkNotReady() {
	ready.Store(false)
}

// Mount registers /health, /ready and /metrics on r.
func Mount(r gin.IRouter) error {
	// Liveness: process is up
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if ready.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order:  0,
		Type:   registryroute.RouteTypeManagement,
		Loader: Mount,
	})
}

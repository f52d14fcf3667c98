package security

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// AccessLogMiddleware writes one log line per request, except for the given paths
// (health checks, metrics scrapes).
func AccessLogMiddleware(quietPaths ...string) gin.HandlerFunc {
	quiet := lo.SliceToMap(quietPaths, func(p string) (string, struct{}) { return p, struct{}{} })
	return func(c *gin.Context) {
		if _, ok := quiet[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if id := GetIdentity(c); id.UserID != uuid.Nil {
			fields = append(fields, "user", id.UserID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Info("HTTP request", fields...)
	}
}

// PrivilegedAuditMiddleware records requests answered for privileged callers, who skip
// participant checks. The identity is read after the handler chain, so it may be
// installed before AuthMiddleware.
func PrivilegedAuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if id := GetIdentity(c); id.Privileged {
			log.Info("Privileged access",
				"caller", id.UserID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"query", c.Request.URL.RawQuery,
				"status", c.Writer.Status(),
			)
		}
	}
}

package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	corsAllowHeaders = "Authorization, Content-Type"
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
)

// corsMiddleware reflects allowed origins and short-circuits every OPTIONS request.
func corsMiddleware(originsCSV string) gin.HandlerFunc {
	origins := parseOrigins(originsCSV)
	allowed := func(origin string) bool {
		return origin != "" && (origins["*"] || origins[origin])
	}
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); allowed(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// parseOrigins splits a comma list into a set. An empty list means any origin.
func parseOrigins(raw string) map[string]bool {
	parts := lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(parts) == 0 {
		parts = []string{"*"}
	}
	return lo.SliceToMap(parts, func(s string) (string, bool) { return s, true })
}

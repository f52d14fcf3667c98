package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chat_service"

// Collectors are nil until InitMetrics runs; the Record* helpers are no-ops before that.
var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	StoreLatency      *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	accessDenied      *prometheus.CounterVec
	dbPoolOpen        prometheus.Gauge
	dbPoolMax         prometheus.Gauge
	initMetricsOnce   sync.Once
	metricsLabelKeyRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ParseMetricsLabels turns "k1=v1,k2=v2" into constant labels. $VAR references are
// expanded first. An empty string yields nil.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = strings.TrimSpace(os.Expand(s, os.Getenv))
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("metrics label %q is not key=value", pair)
		}
		k = strings.TrimSpace(k)
		if !metricsLabelKeyRE.MatchString(k) {
			return nil, fmt.Errorf("metrics label key %q is not a valid prometheus label name", k)
		}
		labels[k] = v
	}
	return labels, nil
}

// InitMetrics registers the service collectors on the default registry. Only the first call
// has an effect, so tests may call it freely.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		f := promauto.With(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer))
		requestsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})
		requestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})
		StoreLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "store_latency_seconds",
			Help: "Datastore operation latency.", Buckets: prometheus.DefBuckets,
		}, []string{"operation"})
		cacheLookups = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "participant_cache_lookups_total",
			Help: "Participant cache lookups by result.",
		}, []string{"result"})
		accessDenied = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "access_denied_total",
			Help: "Requests rejected because the caller is not a participant.",
		}, []string{"operation"})
		dbPoolOpen = f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "db_pool_open_connections",
			Help: "Open database connections.",
		})
		dbPoolMax = f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "db_pool_max_connections",
			Help: "Configured database connection limit.",
		})
	})
}

// RecordStoreOp observes the latency of a datastore call started at start.
func RecordStoreOp(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// RecordCacheLookup counts a participant cache hit or miss.
func RecordCacheLookup(hit bool) {
	if cacheLookups == nil {
		return
	}
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordAccessDenied counts a rejection by the access gate.
func RecordAccessDenied(operation string) {
	if accessDenied != nil {
		accessDenied.WithLabelValues(operation).Inc()
	}
}

// RecordDBPool publishes connection pool figures. A negative max leaves that gauge untouched.
func RecordDBPool(open, max int) {
	if dbPoolOpen == nil {
		return
	}
	dbPoolOpen.Set(float64(open))
	if max >= 0 {
		dbPoolMax.Set(float64(max))
	}
}

// MetricsMiddleware counts and times requests by matched route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

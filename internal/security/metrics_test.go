package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD", "chat-0")
	labels, err := ParseMetricsLabels("service=chat-service,pod=${POD}")
	require.NoError(t, err)
	assert.Equal(t, "chat-0", labels["pod"])
	assert.Equal(t, "chat-service", labels["service"])

	labels, err = ParseMetricsLabels("  ")
	require.NoError(t, err)
	assert.Nil(t, labels)

	_, err = ParseMetricsLabels("bad-key=x")
	require.Error(t, err)
	_, err = ParseMetricsLabels("novalue")
	require.Error(t, err)
}

func TestRecordHelpers(t *testing.T) {
	InitMetrics(nil)

	before := testutil.ToFloat64(accessDenied.WithLabelValues("list_messages"))
	RecordAccessDenied("list_messages")
	assert.Equal(t, before+1, testutil.ToFloat64(accessDenied.WithLabelValues("list_messages")))

	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("miss")))

	RecordDBPool(3, 25)
	RecordDBPool(4, -1)
	assert.Equal(t, 4.0, testutil.ToFloat64(dbPoolOpen))
	assert.Equal(t, 25.0, testutil.ToFloat64(dbPoolMax))
}

func TestMetricsMiddleware_LabelsByRoute(t *testing.T) {
	InitMetrics(nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/v1/conversations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := requestsTotal.WithLabelValues(http.MethodGet, "/v1/conversations/:id", "200")
	before := testutil.ToFloat64(counter)
	for range 2 {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/abc", nil))
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))

	unmatched := requestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	before = testutil.ToFloat64(unmatched)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(unmatched))
}

package system_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/plugin/route/system"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestManagementRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	require.NoError(t, registryroute.MountAll(router, registryroute.RouteTypeManagement))

	require.Equal(t, http.StatusOK, get(router, "/health").Code)

	system.MarkNotReady()
	require.Equal(t, http.StatusServiceUnavailable, get(router, "/ready").Code)
	system.MarkReady()
	require.Equal(t, http.StatusOK, get(router, "/ready").Code)

	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

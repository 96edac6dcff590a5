package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.DELETE("/api/v1/locations/:id/cache", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/api/v1/verifications", func(c *gin.Context) {
		c.Header("X-Request-ID", "req-1")
		c.Status(http.StatusOK)
	})
	return r
}

func preflight(r http.Handler, origin, method string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/locations/room-1/cache", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPreflightForCacheInvalidation(t *testing.T) {
	r := newRouter([]string{"https://admin.sma.example/"})

	w := preflight(r, "https://admin.sma.example", http.MethodDelete)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.sma.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestPreflightRejections(t *testing.T) {
	r := newRouter([]string{"https://admin.sma.example"})

	w := preflight(r, "https://evil.example", http.MethodDelete)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight(r, "https://admin.sma.example", http.MethodPut)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestActualRequestExposesHeaders(t *testing.T) {
	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications", nil)
	req.Header.Set("Origin", "https://scanner.sma.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestRequestsWithoutOriginPassThrough(t *testing.T) {
	r := newRouter([]string{"https://admin.sma.example"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Vary"))
}

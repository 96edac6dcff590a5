package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/service"
)

func requestCount(t *testing.T, metrics *service.MetricsService, want map[string]string) float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, label := range metric.GetLabel() {
				if value, ok := want[label.GetName()]; ok && value == label.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsLabelsVerificationOutcomes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.POST("/api/v1/verifications", func(c *gin.Context) {
		SetOutcome(c, c.Query("outcome"))
		c.Status(http.StatusOK)
	})
	r.GET("/api/v1/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, outcome := range []string{"accepted", "rejected:expired_token", "rejected:expired_token", "duplicate"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/verifications?outcome="+outcome, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	for _, path := range []string{"/api/v1/sessions/s-1", "/api/v1/sessions/s-2", "/wp-login.php", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	verify := func(outcome string) map[string]string {
		return map[string]string{"method": "POST", "route": "/api/v1/verifications", "status": "200", "outcome": outcome}
	}
	assert.Equal(t, 1.0, requestCount(t, metrics, verify("accepted")))
	assert.Equal(t, 2.0, requestCount(t, metrics, verify("rejected:expired_token")))
	assert.Equal(t, 1.0, requestCount(t, metrics, verify("duplicate")))
	assert.Equal(t, 2.0, requestCount(t, metrics, map[string]string{"route": "/api/v1/sessions/:id", "outcome": "none"}))
	assert.Equal(t, 2.0, requestCount(t, metrics, map[string]string{"route": "unmatched", "status": "404"}))
}

func TestMetricsNilServicePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-presence-api/internal/service"
)

const (
	// ContextOutcomeKey carries a handler supplied outcome label for request metrics.
	ContextOutcomeKey = "requestOutcome"

	unmatchedRoute = "unmatched"
	noOutcome      = "none"
)

// SetOutcome labels the current request in metrics. Verification uses it to separate
// accepted, duplicate and rejected submissions that all answer HTTP 200.
func SetOutcome(c *gin.Context, outcome string) {
	c.Set(ContextOutcomeKey, outcome)
}

// Metrics records request duration and count by route template, status and outcome.
// Requests that match no route share one label so scanners cannot inflate cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		outcome := c.GetString(ContextOutcomeKey)
		if outcome == "" {
			outcome = noOutcome
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), outcome, time.Since(start))
	}
}

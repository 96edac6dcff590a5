package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowedHeaders = "Authorization, Content-Type, X-Request-ID"
	// Response headers readable by browser clients.
	exposedHeaders = "X-Request-ID, Retry-After, Content-Disposition"
	maxAgeSeconds  = "600"
)

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete}

// New returns CORS middleware for the presence API. An empty origin list admits every
// origin without credentials; a configured list is matched exactly and allows credentials.
// Preflights are answered here so they never reach the JWT guard.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[strings.TrimRight(origin, "/")] = struct{}{}
	}
	methods := strings.Join(append(append([]string{}, allowedMethods...), http.MethodOptions), ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if origin == "" {
			if preflight {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		header := c.Writer.Header()
		header.Add("Vary", "Origin")
		_, listed := originSet[strings.TrimRight(origin, "/")]
		if !allowAll && !listed {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		if allowAll {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		}

		if !preflight {
			header.Set("Access-Control-Expose-Headers", exposedHeaders)
			c.Next()
			return
		}

		if !methodAllowed(c.GetHeader("Access-Control-Request-Method")) {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		header.Add("Vary", "Access-Control-Request-Method")
		header.Add("Vary", "Access-Control-Request-Headers")
		header.Set("Access-Control-Allow-Methods", methods)
		header.Set("Access-Control-Allow-Headers", allowedHeaders)
		header.Set("Access-Control-Max-Age", maxAgeSeconds)
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func methodAllowed(method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, m := range allowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

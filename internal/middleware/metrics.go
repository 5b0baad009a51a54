package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inviteqr/pkg/metrics"
)

// unmatchedRoute labels requests no route claimed, keeping scanner traffic
// against random paths out of the label set.
const unmatchedRoute = "unmatched"

// Metrics records request latency per route template, e.g.
// /api/v1/invites/:code rather than each invite code.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

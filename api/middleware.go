package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"content-service/metrics"
	"content-service/service"

	"github.com/gin-gonic/gin"
)

const (
	allowedMethods = "GET, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, X-Requested-With"
)

// PrometheusMiddleware creates a middleware for collecting Prometheus metrics
func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Route templates keep the label set bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(c.Writer.Status())

		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, statusCode, serviceName).Inc()
		metrics.HttpRequestDuration.WithLabelValues(c.Request.Method, path, serviceName).Observe(duration)
	}
}

// contentHeaders sets the CORS headers every content response carries,
// whether or not the caller sent an Origin.
func contentHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		c.Next()
	}
}

// preflight answers OPTIONS on a content route.
func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// cacheControl mirrors the server-side TTL so CDNs cache as long as we do.
func cacheControl(route service.Route) string {
	ttl := int(route.TTL.Seconds())
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d", ttl, ttl)
}

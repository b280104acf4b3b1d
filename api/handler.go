package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"content-service/aggregator"
	"content-service/metrics"
	"content-service/model"
	"content-service/ratelimit"
	"content-service/service"

	"github.com/gin-gonic/gin"
)

const (
	anonymousClient   = "anonymous"
	rateLimitMessage  = "Rate limit exceeded. Please try again later."
	allFailedMessage  = "Failed to fetch content from all sources"
	readyCheckTimeout = 2 * time.Second
)

// Refresher queues a cache refresh and returns its request ID.
type Refresher interface {
	RequestRefresh(names []string) (string, error)
}

// ReadyCheck reports whether a backing dependency is reachable.
type ReadyCheck func(ctx context.Context) error

type Handler struct {
	svc       *service.ContentService
	refresher Refresher
	ready     ReadyCheck
	now       func() time.Time
}

// NewHandler wires the HTTP layer. refresher and ready may be nil.
func NewHandler(svc *service.ContentService, refresher Refresher, ready ReadyCheck) *Handler {
	return &Handler{svc: svc, refresher: refresher, ready: ready, now: time.Now}
}

func (h *Handler) category(category model.Category) gin.HandlerFunc {
	route, ok := service.CategoryRoute(category)
	if !ok {
		panic(fmt.Sprintf("no route for category %q", category))
	}
	return func(c *gin.Context) {
		decision, ok := h.admit(c, route)
		if !ok {
			return
		}
		limit, err := parseLimit(c.Query("limit"), route)
		if err != nil {
			badRequest(c, err)
			return
		}

		res, hit := h.svc.Category(c.Request.Context(), category, limit)
		if res.Success {
			metrics.ContentItemsServed.WithLabelValues(route.Name).Add(float64(len(res.Data)))
		}
		respond(c, route, res, hit, decision)
	}
}

// GetFeed serves the mixed, time-sorted feed.
func (h *Handler) GetFeed(c *gin.Context) {
	route := service.FeedRoute
	decision, ok := h.admit(c, route)
	if !ok {
		return
	}

	limit, err := parseLimit(c.Query("limit"), route)
	if err != nil {
		badRequest(c, err)
		return
	}
	var sel aggregator.Selection
	for _, toggle := range []struct {
		name string
		dest *bool
	}{
		{"memes", &sel.Memes},
		{"crypto", &sel.Crypto},
		{"gaming", &sel.Gaming},
	} {
		if *toggle.dest, err = parseToggle(toggle.name, c.Query(toggle.name)); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, hit := h.svc.Feed(c.Request.Context(), limit, sel)
	if res.Success {
		metrics.ContentItemsServed.WithLabelValues(route.Name).Add(float64(len(res.Data)))
	}
	respond(c, route, res, hit, decision)
}

// GetAll serves every provider in its own slot. A provider failure only
// fails its slot; the request fails when all of them do.
func (h *Handler) GetAll(c *gin.Context) {
	route := service.AllRoute
	decision, ok := h.admit(c, route)
	if !ok {
		return
	}

	var limits aggregator.Limits
	for _, slot := range []struct {
		name string
		dest *int
	}{
		{"memes", &limits.Memes},
		{"crypto", &limits.Crypto},
		{"gaming", &limits.Gaming},
	} {
		n, err := parseLimit(c.Query(slot.name), route)
		if err != nil {
			badRequest(c, fmt.Errorf("%s: %w", slot.name, err))
			return
		}
		*slot.dest = n
	}

	out, hit := h.svc.All(c.Request.Context(), limits)
	res := model.OK(out)
	served := 0
	for _, slot := range []*model.Result[[]model.ContentItem]{out.Memes, out.Crypto, out.Gaming} {
		if slot != nil && slot.Success {
			served += len(slot.Data)
		}
	}
	if !anySucceeded(out) {
		res = model.FailWithCode[model.AllContent](model.CodeAggregation, allFailedMessage)
	}
	metrics.ContentItemsServed.WithLabelValues(route.Name).Add(float64(served))
	respond(c, route, res, hit, decision)
}

type refreshBody struct {
	Categories []string `json:"categories"`
}

// Refresh queues a cache refresh of the named routes, or all of them. While
// a refresh is already running its request ID is returned instead.
func (h *Handler) Refresh(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Refresh is not available"})
		return
	}
	if _, ok := h.admit(c, service.RefreshRoute); !ok {
		return
	}

	var body refreshBody
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	known := service.RouteNames()
	for _, name := range body.Categories {
		if !slices.Contains(known, name) {
			badRequest(c, fmt.Errorf("unknown category %q", name))
			return
		}
	}

	id, err := h.refresher.RequestRefresh(body.Categories)
	if err != nil {
		log.Printf("[ERROR] Failed to queue refresh: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to queue refresh"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "requestId": id})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}

func (h *Handler) Ready(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyCheckTimeout)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			log.Printf("[WARN] Readiness check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "service": ServiceName})
}

// admit applies the route rate limit and writes the 429 on rejection.
func (h *Handler) admit(c *gin.Context, route service.Route) (ratelimit.Decision, bool) {
	d := h.svc.Allow(route, clientKey(c.Request))
	if d.Allowed {
		return d, true
	}

	wait := d.RetryAfter(h.now())
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusTooManyRequests, model.Result[any]{
		Success:   false,
		Error:     rateLimitMessage,
		RateLimit: &model.RateLimitInfo{Remaining: 0, ResetTime: d.ResetAt},
	})
	return d, false
}

func respond[T any](c *gin.Context, route service.Route, res model.Result[T], hit bool, d ratelimit.Decision) {
	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}

	if !res.Success {
		log.Printf("[ERROR] %s request failed (%s): %s", route.Name, res.Code, res.Error)
		c.Header("Cache-Control", "no-store")
		// Misconfiguration, upstream and aggregation failures are all ours.
		c.JSON(http.StatusInternalServerError, res)
		return
	}

	res.RateLimit = &model.RateLimitInfo{Remaining: d.Remaining, ResetTime: d.ResetAt}
	c.Header("Cache-Control", cacheControl(route))
	c.JSON(http.StatusOK, res)
}

func badRequest(c *gin.Context, err error) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}

// clientKey identifies the caller for rate limiting. Callers without any
// forwarding header share one bucket.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return anonymousClient
}

// parseLimit validates a limit parameter and caps it at the route maximum.
func parseLimit(raw string, route service.Route) (int, error) {
	if raw == "" {
		return route.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q: must be a positive integer", raw)
	}
	return route.Clamp(n), nil
}

func parseToggle(name, raw string) (bool, error) {
	if raw == "" {
		return true, nil
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be true or false", name, raw)
	}
	return on, nil
}

func anySucceeded(out model.AllContent) bool {
	for _, slot := range []*model.Result[[]model.ContentItem]{out.Memes, out.Crypto, out.Gaming} {
		if slot != nil && slot.Success {
			return true
		}
	}
	return false
}

// Package service applies the per-route policies (limits, rate limits, cache
// TTLs) on top of the aggregator. HTTP handlers and the background refresher
// both go through it so they agree on cache keys.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"content-service/aggregator"
	"content-service/cache"
	"content-service/metrics"
	"content-service/model"
	"content-service/ratelimit"
)

// Route is the policy attached to one content endpoint.
type Route struct {
	Name         string
	MaxLimit     int
	DefaultLimit int
	MaxRequests  int
	Window       time.Duration
	TTL          time.Duration
}

var (
	MemesRoute  = Route{Name: "memes", MaxLimit: 50, DefaultLimit: 20, MaxRequests: 100, Window: time.Hour, TTL: 15 * time.Minute}
	CryptoRoute = Route{Name: "crypto", MaxLimit: 30, DefaultLimit: 20, MaxRequests: 150, Window: time.Hour, TTL: 10 * time.Minute}
	GamingRoute = Route{Name: "gaming", MaxLimit: 25, DefaultLimit: 20, MaxRequests: 120, Window: time.Hour, TTL: 20 * time.Minute}
	FeedRoute   = Route{Name: "feed", MaxLimit: 50, DefaultLimit: 30, MaxRequests: 200, Window: time.Hour, TTL: 10 * time.Minute}
	AllRoute    = Route{Name: "all", MaxLimit: 50, DefaultLimit: aggregator.DefaultLimit, MaxRequests: 200, Window: time.Hour, TTL: 10 * time.Minute}
)

// RefreshRoute limits manual refresh triggers. It serves no content, so it
// is not part of Routes.
var RefreshRoute = Route{Name: "refresh", MaxRequests: 5, Window: time.Hour}

// Routes lists every content route in refresh order.
var Routes = []Route{MemesRoute, CryptoRoute, GamingRoute, FeedRoute, AllRoute}

// Clamp caps limit at the route maximum.
func (r Route) Clamp(limit int) int {
	if limit > r.MaxLimit {
		return r.MaxLimit
	}
	return limit
}

// CategoryRoute returns the route serving a single provider category.
func CategoryRoute(category model.Category) (Route, bool) {
	switch category {
	case model.CategoryMeme:
		return MemesRoute, true
	case model.CategoryCrypto:
		return CryptoRoute, true
	case model.CategoryGaming:
		return GamingRoute, true
	}
	return Route{}, false
}

func CategoryKey(route Route, limit int) string {
	return fmt.Sprintf("%s:limit=%d", route.Name, limit)
}

func FeedKey(limit int, sel aggregator.Selection) string {
	return fmt.Sprintf("feed:limit=%d:memes=%t:crypto=%t:gaming=%t", limit, sel.Memes, sel.Crypto, sel.Gaming)
}

func AllKey(limits aggregator.Limits) string {
	return fmt.Sprintf("all:memes=%d:crypto=%d:gaming=%d", limits.Memes, limits.Crypto, limits.Gaming)
}

type ContentService struct {
	agg     *aggregator.Aggregator
	cache   *cache.Cache
	limiter *ratelimit.Limiter
}

func New(agg *aggregator.Aggregator, c *cache.Cache, limiter *ratelimit.Limiter) *ContentService {
	return &ContentService{agg: agg, cache: c, limiter: limiter}
}

// Allow records a request from client against route's rate limit.
// Each route keeps its own window per client.
func (s *ContentService) Allow(route Route, client string) ratelimit.Decision {
	d := s.limiter.Allow(route.Name+":"+client, route.MaxRequests, route.Window)
	if !d.Allowed {
		metrics.RateLimitRejections.WithLabelValues(route.Name).Inc()
		log.Printf("[WARN] Rate limit exceeded for client=%s on route=%s", client, route.Name)
	}
	return d
}

// Category serves one provider through the cache. The bool reports a cache hit.
func (s *ContentService) Category(ctx context.Context, category model.Category, limit int) (model.Result[[]model.ContentItem], bool) {
	route, ok := CategoryRoute(category)
	if !ok {
		return model.Fail[[]model.ContentItem](fmt.Sprintf("Unknown category %s", category)), false
	}
	key := CategoryKey(route, limit)
	return cached(ctx, s.cache, route, key, func() model.Result[[]model.ContentItem] {
		return s.agg.Fetch(ctx, category, limit)
	})
}

// Feed serves the mixed feed for the selected providers through the cache.
func (s *ContentService) Feed(ctx context.Context, limit int, sel aggregator.Selection) (model.Result[[]model.ContentItem], bool) {
	return cached(ctx, s.cache, FeedRoute, FeedKey(limit, sel), func() model.Result[[]model.ContentItem] {
		return s.agg.GetMixedFeedFrom(ctx, limit, sel)
	})
}

// All serves the per-provider slots through the cache. Only responses where
// every slot succeeded are cached.
func (s *ContentService) All(ctx context.Context, limits aggregator.Limits) (model.AllContent, bool) {
	key := AllKey(limits)
	var out model.AllContent
	if s.cache.Get(ctx, key, &out) {
		metrics.CacheLookupsTotal.WithLabelValues(AllRoute.Name, "hit").Inc()
		return out, true
	}
	metrics.CacheLookupsTotal.WithLabelValues(AllRoute.Name, "miss").Inc()

	out = s.agg.GetAllContent(ctx, limits)
	if allSucceeded(out) {
		s.cache.Set(ctx, key, out, AllRoute.TTL)
	}
	return out, false
}

// Prune sweeps expired cache entries and idle rate-limit windows.
func (s *ContentService) Prune(ctx context.Context) {
	entries := s.cache.Prune(ctx)
	windows := s.limiter.Prune()
	metrics.CacheEntriesPruned.Add(float64(entries))
	if entries > 0 || windows > 0 {
		log.Printf("[INFO] Pruned %d cache entries and %d rate-limit windows", entries, windows)
	}
}

func cached(ctx context.Context, c *cache.Cache, route Route, key string, load func() model.Result[[]model.ContentItem]) (model.Result[[]model.ContentItem], bool) {
	var res model.Result[[]model.ContentItem]
	if c.Get(ctx, key, &res) {
		metrics.CacheLookupsTotal.WithLabelValues(route.Name, "hit").Inc()
		return res, true
	}
	metrics.CacheLookupsTotal.WithLabelValues(route.Name, "miss").Inc()

	res = load()
	if res.Success {
		c.Set(ctx, key, res, route.TTL)
	}
	return res, false
}

func allSucceeded(out model.AllContent) bool {
	for _, slot := range []*model.Result[[]model.ContentItem]{out.Memes, out.Crypto, out.Gaming} {
		if slot == nil || !slot.Success {
			return false
		}
	}
	return true
}

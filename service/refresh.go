package service

import (
	"context"
	"fmt"
	"log"

	"content-service/aggregator"
	"content-service/model"
)

// RouteNames returns the names accepted by Refresh.
func RouteNames() []string {
	names := make([]string, 0, len(Routes))
	for _, r := range Routes {
		names = append(names, r.Name)
	}
	return names
}

// Refresh reloads the default cache entry of each named route, skipping the
// cache lookup. No names means every route. Failed loads leave the existing
// entry in place.
func (s *ContentService) Refresh(ctx context.Context, names []string) (map[string]model.RefreshCount, error) {
	routes, err := selectRoutes(names)
	if err != nil {
		return nil, err
	}

	results := make(map[string]model.RefreshCount, len(routes))
	for _, route := range routes {
		results[route.Name] = s.refreshRoute(ctx, route)
	}
	return results, nil
}

func (s *ContentService) refreshRoute(ctx context.Context, route Route) model.RefreshCount {
	switch route.Name {
	case FeedRoute.Name:
		limit := route.DefaultLimit
		res := s.agg.GetMixedFeedFrom(ctx, limit, aggregator.All)
		if !res.Success {
			return model.RefreshCount{Error: res.Error}
		}
		s.cache.Set(ctx, FeedKey(limit, aggregator.All), res, route.TTL)
		return model.RefreshCount{Items: len(res.Data)}

	case AllRoute.Name:
		limits := aggregator.Limits{Memes: route.DefaultLimit, Crypto: route.DefaultLimit, Gaming: route.DefaultLimit}
		out := s.agg.GetAllContent(ctx, limits)
		if !allSucceeded(out) {
			return model.RefreshCount{Error: "one or more providers failed"}
		}
		s.cache.Set(ctx, AllKey(limits), out, route.TTL)
		return model.RefreshCount{Items: len(out.Memes.Data) + len(out.Crypto.Data) + len(out.Gaming.Data)}
	}

	category := routeCategory(route)
	limit := route.DefaultLimit
	res := s.agg.Fetch(ctx, category, limit)
	if !res.Success {
		log.Printf("[WARN] Refresh of %s failed: %s", route.Name, res.Error)
		return model.RefreshCount{Error: res.Error}
	}
	s.cache.Set(ctx, CategoryKey(route, limit), res, route.TTL)
	return model.RefreshCount{Items: len(res.Data)}
}

func routeCategory(route Route) model.Category {
	switch route.Name {
	case MemesRoute.Name:
		return model.CategoryMeme
	case CryptoRoute.Name:
		return model.CategoryCrypto
	case GamingRoute.Name:
		return model.CategoryGaming
	}
	return ""
}

func selectRoutes(names []string) ([]Route, error) {
	if len(names) == 0 {
		return Routes, nil
	}
	byName := make(map[string]Route, len(Routes))
	for _, r := range Routes {
		byName[r.Name] = r
	}
	out := make([]Route, 0, len(names))
	for _, name := range names {
		r, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown route %q", name)
		}
		out = append(out, r)
	}
	return out, nil
}

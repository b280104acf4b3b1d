// Package aggregator fans requests out to the content providers and merges
// their results. One provider failing never affects its siblings.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"content-service/fetcher"
	"content-service/model"
)

const DefaultLimit = 10

// Limits caps each provider. Zero means DefaultLimit.
type Limits struct {
	Memes  int
	Crypto int
	Gaming int
}

// Selection chooses which providers take part in a mixed feed.
type Selection struct {
	Memes  bool
	Crypto bool
	Gaming bool
}

var All = Selection{Memes: true, Crypto: true, Gaming: true}

func (s Selection) count() int {
	n := 0
	for _, on := range []bool{s.Memes, s.Crypto, s.Gaming} {
		if on {
			n++
		}
	}
	return n
}

type Aggregator struct {
	memes  fetcher.Provider
	crypto fetcher.Provider
	gaming fetcher.Provider
}

func New(memes, crypto, gaming fetcher.Provider) *Aggregator {
	return &Aggregator{memes: memes, crypto: crypto, gaming: gaming}
}

// Provider returns the provider serving category, or nil.
func (a *Aggregator) Provider(category model.Category) fetcher.Provider {
	switch category {
	case model.CategoryMeme:
		return a.memes
	case model.CategoryCrypto:
		return a.crypto
	case model.CategoryGaming:
		return a.gaming
	}
	return nil
}

// Fetch runs a single provider, turning a panic into a failed result.
func (a *Aggregator) Fetch(ctx context.Context, category model.Category, limit int) model.Result[[]model.ContentItem] {
	p := a.Provider(category)
	if p == nil {
		return model.Fail[[]model.ContentItem](fmt.Sprintf("Unknown category %s", category))
	}
	return safeFetch(ctx, p, limit)
}

// GetAllContent queries every provider concurrently and waits for all of them.
func (a *Aggregator) GetAllContent(ctx context.Context, limits Limits) model.AllContent {
	return a.collect(ctx, All, limits)
}

// GetMixedFeed merges all providers into one feed of at most totalLimit items.
// A limit below one yields an empty feed without fetching.
func (a *Aggregator) GetMixedFeed(ctx context.Context, totalLimit int) model.Result[[]model.ContentItem] {
	if totalLimit <= 0 {
		return model.OK([]model.ContentItem{})
	}
	perCategory := ceilDiv(totalLimit, 3)
	content := a.GetAllContent(ctx, Limits{Memes: perCategory, Crypto: perCategory, Gaming: perCategory})
	return merge(content, totalLimit)
}

// GetMixedFeedFrom is GetMixedFeed restricted to the selected providers.
// It fails when every selected provider failed.
func (a *Aggregator) GetMixedFeedFrom(ctx context.Context, totalLimit int, sel Selection) model.Result[[]model.ContentItem] {
	n := sel.count()
	if n == 0 || totalLimit <= 0 {
		return model.OK([]model.ContentItem{})
	}
	perCategory := ceilDiv(totalLimit, n)
	content := a.collect(ctx, sel, Limits{Memes: perCategory, Crypto: perCategory, Gaming: perCategory})

	failed := 0
	for _, slot := range []*model.Result[[]model.ContentItem]{content.Memes, content.Crypto, content.Gaming} {
		if slot != nil && !slot.Success {
			failed++
		}
	}
	if failed == n {
		return model.FailWithCode[[]model.ContentItem](model.CodeAggregation, "Failed to fetch content from all sources")
	}
	return merge(content, totalLimit)
}

func (a *Aggregator) collect(ctx context.Context, sel Selection, limits Limits) model.AllContent {
	var (
		out model.AllContent
		wg  sync.WaitGroup
	)

	launch := func(on bool, p fetcher.Provider, limit int, slot **model.Result[[]model.ContentItem]) {
		if !on {
			return
		}
		if limit <= 0 {
			limit = DefaultLimit
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := safeFetch(ctx, p, limit)
			*slot = &res
		}()
	}

	launch(sel.Memes, a.memes, limits.Memes, &out.Memes)
	launch(sel.Crypto, a.crypto, limits.Crypto, &out.Crypto)
	launch(sel.Gaming, a.gaming, limits.Gaming, &out.Gaming)
	wg.Wait()

	return out
}

func safeFetch(ctx context.Context, p fetcher.Provider, limit int) (res model.Result[[]model.ContentItem]) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] %s provider panicked: %v", p.Name(), r)
			res = model.Fail[[]model.ContentItem](fmt.Sprintf("Failed to fetch %s", SlotName(p.Category())))
		}
	}()
	return p.Fetch(ctx, limit)
}

// merge concatenates successful slots in memes, crypto, gaming order, sorts
// newest first keeping that order for equal timestamps, and truncates.
func merge(content model.AllContent, totalLimit int) (res model.Result[[]model.ContentItem]) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] mixed feed merge panicked: %v", r)
			res = model.FailWithCode[[]model.ContentItem](model.CodeAggregation, "Failed to build mixed feed")
		}
	}()

	items := []model.ContentItem{}
	for _, slot := range []*model.Result[[]model.ContentItem]{content.Memes, content.Crypto, content.Gaming} {
		if slot == nil || !slot.Success {
			continue
		}
		items = append(items, slot.Data...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})

	if totalLimit < 0 {
		totalLimit = 0
	}
	if len(items) > totalLimit {
		items = items[:totalLimit]
	}
	return model.OK(items)
}

// SlotName is the plural name used for a category's slot in responses.
func SlotName(category model.Category) string {
	switch category {
	case model.CategoryMeme:
		return "memes"
	default:
		return string(category)
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

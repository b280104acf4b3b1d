package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"content-service/model"

	"github.com/mmcdole/gofeed"
)

const (
	coinTelegraphSource = "CoinTelegraph"
	ignSource           = "IGN"
)

// FeedProvider serves one RSS/Atom feed as content items of a fixed category.
type FeedProvider struct {
	client   *Client
	name     string
	category model.Category
	url      string
	now      func() time.Time
}

func newFeedProvider(client *Client, name string, category model.Category, url string) *FeedProvider {
	return &FeedProvider{client: client, name: name, category: category, url: url, now: time.Now}
}

func (p *FeedProvider) Name() string             { return p.name }
func (p *FeedProvider) Category() model.Category { return p.category }

func (p *FeedProvider) Fetch(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	return run(p.name, func() ([]model.ContentItem, error) {
		return p.fetch(ctx, limit)
	})
}

func (p *FeedProvider) fetch(ctx context.Context, limit int) ([]model.ContentItem, error) {
	resp, err := p.client.get(ctx, p.url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// gofeed parsers keep per-parse state, so one per fetch.
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", p.name, err)
	}

	now := p.now()
	items := make([]model.ContentItem, 0, limit)
	for _, it := range feed.Items {
		if len(items) >= limit {
			break
		}
		if it == nil || it.Link == "" {
			continue
		}
		items = append(items, p.toItem(it, now))
	}
	return items, nil
}

func (p *FeedProvider) toItem(it *gofeed.Item, now time.Time) model.ContentItem {
	id := strings.TrimSpace(it.GUID)
	if id == "" {
		id = it.Link
	}

	published := now
	if it.PublishedParsed != nil {
		published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		published = *it.UpdatedParsed
	}

	desc := it.Description
	if desc == "" {
		desc = it.Content
	}

	return model.ContentItem{
		ID:          id,
		Title:       strings.TrimSpace(it.Title),
		Description: truncate(stripHTML(desc), maxDescriptionLength),
		URL:         it.Link,
		ImageURL:    feedImage(it),
		PublishedAt: published.UTC(),
		Source:      p.name,
		Category:    p.category,
		Tags:        it.Categories,
	}
}

// feedImage picks the item image, then an image enclosure, then media:content
// or media:thumbnail.
func feedImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if media, ok := it.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	return ""
}

// CryptoProvider serves CoinTelegraph news.
type CryptoProvider struct {
	*FeedProvider
}

func NewCryptoProvider(client *Client, feedURL string) *CryptoProvider {
	return &CryptoProvider{newFeedProvider(client, coinTelegraphSource, model.CategoryCrypto, feedURL)}
}

func (p *CryptoProvider) GetCryptoNews(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	return p.Fetch(ctx, limit)
}

// GamingProvider serves IGN news.
type GamingProvider struct {
	*FeedProvider
}

func NewGamingProvider(client *Client, feedURL string) *GamingProvider {
	return &GamingProvider{newFeedProvider(client, ignSource, model.CategoryGaming, feedURL)}
}

func (p *GamingProvider) GetGamingNews(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	return p.Fetch(ctx, limit)
}

// Package fetcher holds the upstream content providers. Each provider wraps
// one external source, normalizes it into model.ContentItem and reports
// failures as a failed model.Result instead of an error.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"content-service/metrics"
	"content-service/model"
)

const userAgent = "Mozilla/5.0 (compatible; IvoTechContentBot/1.0)"

// ErrMissingAPIKey marks a provider that cannot run without credentials.
var ErrMissingAPIKey = errors.New("imgur client ID is not configured")

type Provider interface {
	Name() string
	Category() model.Category
	Fetch(ctx context.Context, limit int) model.Result[[]model.ContentItem]
}

// Client is the HTTP client shared by every provider.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// get issues a GET and returns the open response for 2xx statuses only.
func (c *Client) get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		log.Printf("[ERROR] %s returned status %d, body: %s", url, resp.StatusCode, string(body))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// run converts a provider fetch into a Result and records metrics for it.
func run(provider string, fetch func() ([]model.ContentItem, error)) model.Result[[]model.ContentItem] {
	start := time.Now()
	items, err := fetch()
	metrics.ProviderFetchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderFetchesTotal.WithLabelValues(provider, "error").Inc()
		log.Printf("[ERROR] %s fetch failed: %v", provider, err)
		if errors.Is(err, ErrMissingAPIKey) {
			return model.FailWithCode[[]model.ContentItem](model.CodeMisconfigured, err.Error())
		}
		return model.Fail[[]model.ContentItem](fmt.Sprintf("%s: %v", provider, err))
	}

	metrics.ProviderFetchesTotal.WithLabelValues(provider, "success").Inc()
	log.Printf("[INFO] Fetched %d items from %s in %v", len(items), provider, time.Since(start))
	return model.OK(items)
}

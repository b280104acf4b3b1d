package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"content-service/model"
)

const (
	imgurSource = "Imgur"
	memeQuery   = "programming meme"
)

type imgurResponse struct {
	Success bool        `json:"success"`
	Status  int         `json:"status"`
	Data    []imgurPost `json:"data"`
}

type imgurPost struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Link        string       `json:"link"`
	Type        string       `json:"type"`
	NSFW        bool         `json:"nsfw"`
	IsAlbum     bool         `json:"is_album"`
	Datetime    int64        `json:"datetime"`
	Images      []imgurImage `json:"images"`
	Tags        []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

type imgurImage struct {
	ID   string `json:"id"`
	Link string `json:"link"`
	Type string `json:"type"`
	NSFW bool   `json:"nsfw"`
}

// MemeProvider fetches developer memes from the Imgur gallery search API.
type MemeProvider struct {
	client   *Client
	apiURL   string
	clientID string
}

func NewMemeProvider(client *Client, apiURL, clientID string) *MemeProvider {
	return &MemeProvider{client: client, apiURL: apiURL, clientID: clientID}
}

func (p *MemeProvider) Name() string             { return imgurSource }
func (p *MemeProvider) Category() model.Category { return model.CategoryMeme }

func (p *MemeProvider) Fetch(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	return p.GetDevMemes(ctx, limit)
}

// GetDevMemes returns up to limit safe-for-work image memes.
func (p *MemeProvider) GetDevMemes(ctx context.Context, limit int) model.Result[[]model.ContentItem] {
	return run(imgurSource, func() ([]model.ContentItem, error) {
		return p.fetch(ctx, limit)
	})
}

func (p *MemeProvider) fetch(ctx context.Context, limit int) ([]model.ContentItem, error) {
	if p.clientID == "" {
		return nil, ErrMissingAPIKey
	}

	u := p.apiURL + "?" + url.Values{"q": {memeQuery}}.Encode()
	resp, err := p.client.get(ctx, u, http.Header{"Authorization": {"Client-ID " + p.clientID}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result imgurResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode imgur response: %w", err)
	}

	items := make([]model.ContentItem, 0, limit)
	for _, post := range result.Data {
		if len(items) >= limit {
			break
		}
		item, ok := memeItem(post)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// memeItem maps a gallery post, rejecting NSFW posts and anything whose
// media is not an image. Albums are represented by their first image.
func memeItem(post imgurPost) (model.ContentItem, bool) {
	if post.NSFW {
		return model.ContentItem{}, false
	}

	imageURL, mediaType := post.Link, post.Type
	if post.IsAlbum {
		if len(post.Images) == 0 {
			return model.ContentItem{}, false
		}
		first := post.Images[0]
		if first.NSFW {
			return model.ContentItem{}, false
		}
		imageURL, mediaType = first.Link, first.Type
	}
	if imageURL == "" || !strings.HasPrefix(mediaType, "image/") {
		return model.ContentItem{}, false
	}

	tags := make([]string, 0, len(post.Tags))
	for _, t := range post.Tags {
		if t.Name != "" {
			tags = append(tags, t.Name)
		}
	}

	return model.ContentItem{
		ID:          post.ID,
		Title:       post.Title,
		Description: truncate(stripHTML(post.Description), maxDescriptionLength),
		URL:         "https://imgur.com/gallery/" + post.ID,
		ImageURL:    imageURL,
		PublishedAt: time.Unix(post.Datetime, 0).UTC(),
		Source:      imgurSource,
		Category:    model.CategoryMeme,
		Tags:        tags,
	}, true
}

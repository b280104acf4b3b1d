package model

import "time"

type Category string

const (
	CategoryMeme   Category = "meme"
	CategoryCrypto Category = "crypto"
	CategoryGaming Category = "gaming"
	CategoryTech   Category = "tech"
)

// ContentItem is one normalized piece of external content.
// ID is only unique within a single Source.
type ContentItem struct {
	ID          string    `json:"id" bson:"id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	URL         string    `json:"url" bson:"url"`
	ImageURL    string    `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	PublishedAt time.Time `json:"publishedAt" bson:"publishedAt"`
	Source      string    `json:"source" bson:"source"`
	Category    Category  `json:"category" bson:"category"`
	Tags        []string  `json:"tags,omitempty" bson:"tags,omitempty"`
}

// Key identifies an item across providers.
func (c ContentItem) Key() string {
	return c.Source + ":" + c.ID
}

// AllContent holds one slot per provider. A nil slot was not requested.
type AllContent struct {
	Memes  *Result[[]ContentItem] `json:"memes,omitempty"`
	Crypto *Result[[]ContentItem] `json:"crypto,omitempty"`
	Gaming *Result[[]ContentItem] `json:"gaming,omitempty"`
}

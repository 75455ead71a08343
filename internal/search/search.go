package search

import (
	"time"

	"myriad/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Link     string `json:"link"`
	PeopleID string `json:"peopleId"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Platform store.Platform // empty = all platforms
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PostRecord is the data we index for an imported post.
type PostRecord struct {
	ID          string   `json:"id"`
	Platform    string   `json:"platform"`
	TextID      string   `json:"textId"`
	PeopleID    string   `json:"peopleId"`
	Title       string   `json:"title"`
	Text        string   `json:"text"`
	Tags        []string `json:"tags"`
	Link        string   `json:"link"`
	PublishedAt int64    `json:"publishedAt"`
}

func RecordFromPost(post store.ImportedPost) PostRecord {
	tags := []string(post.Tags)
	if tags == nil {
		tags = []string{}
	}
	return PostRecord{
		ID:          post.ID,
		Platform:    string(post.Platform),
		TextID:      post.TextID,
		PeopleID:    post.PeopleID,
		Title:       post.Title,
		Text:        post.Text,
		Tags:        tags,
		Link:        post.Link,
		PublishedAt: post.PublishedAt.UTC().Truncate(time.Second).Unix(),
	}
}

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"myriad/api/internal/store"
)

// Reddit reads a user's submissions from the public JSON listing.
type Reddit struct {
	baseURL string
	fetcher *Fetcher
}

func NewReddit(baseURL string, fetcher *Fetcher) *Reddit {
	return &Reddit{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}
}

func (r *Reddit) Platform() store.Platform { return store.PlatformReddit }

func (r *Reddit) Fetch(ctx context.Context, person store.Person) (Payload, error) {
	if person.Username == "" {
		return Payload{}, fmt.Errorf("reddit person %s has no username", person.ID)
	}
	endpoint := fmt.Sprintf("%s/user/%s/submitted.json?limit=25&raw_json=1", r.baseURL, url.PathEscape(person.Username))
	body, err := r.fetcher.Get(ctx, endpoint, nil)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Platform:  store.PlatformReddit,
		AccountID: person.PlatformAccountID,
		Username:  person.Username,
		Format:    FormatJSON,
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID             string  `json:"id"`
	Author         string  `json:"author"`
	AuthorFullname string  `json:"author_fullname"`
	Title          string  `json:"title"`
	Selftext       string  `json:"selftext"`
	Permalink      string  `json:"permalink"`
	CreatedUTC     float64 `json:"created_utc"`
}

func (r *Reddit) Normalize(payload Payload) ([]Item, error) {
	var listing redditListing
	if err := json.Unmarshal(payload.Body, &listing); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}
	items := make([]Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		item := Item{
			ExternalID:      post.ID,
			AuthorAccountID: strings.TrimPrefix(post.AuthorFullname, "t2_"),
			AuthorUsername:  post.Author,
			Title:           post.Title,
			Text:            post.Selftext,
			Tags:            Hashtags(post.Title, post.Selftext),
		}
		if post.Permalink != "" {
			item.Link = "https://www.reddit.com" + post.Permalink
		}
		if post.CreatedUTC > 0 {
			item.PublishedAt = time.Unix(int64(post.CreatedUTC), 0).UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

type redditAbout struct {
	Data struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		IconImg   string `json:"icon_img"`
		Subreddit struct {
			Title string `json:"title"`
		} `json:"subreddit"`
	} `json:"data"`
}

func (r *Reddit) FetchProfile(ctx context.Context, person store.Person) (Profile, error) {
	endpoint := fmt.Sprintf("%s/user/%s/about.json?raw_json=1", r.baseURL, url.PathEscape(person.Username))
	body, err := r.fetcher.Get(ctx, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}
	var about redditAbout
	if err := json.Unmarshal(body, &about); err != nil {
		return Profile{}, fmt.Errorf("decode reddit profile: %w", err)
	}
	name := about.Data.Subreddit.Title
	if name == "" {
		name = about.Data.Name
	}
	return Profile{
		AccountID: about.Data.ID,
		Username:  about.Data.Name,
		Name:      name,
		AvatarURL: about.Data.IconImg,
	}, nil
}

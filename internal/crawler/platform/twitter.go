package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"myriad/api/internal/store"
)

// Twitter reads a user timeline from the v2 API. When a cursor store is
// configured only tweets newer than the last committed id are requested.
type Twitter struct {
	baseURL string
	token   string
	fetcher *Fetcher
	cursors CursorStore
}

func NewTwitter(baseURL, bearerToken string, fetcher *Fetcher, cursors CursorStore) *Twitter {
	return &Twitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		fetcher: fetcher,
		cursors: cursors,
	}
}

func (t *Twitter) Platform() store.Platform { return store.PlatformTwitter }

func (t *Twitter) header() http.Header {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	return header
}

func (t *Twitter) Fetch(ctx context.Context, person store.Person) (Payload, error) {
	query := url.Values{}
	query.Set("max_results", "100")
	query.Set("tweet.fields", "created_at,author_id,entities")
	query.Set("expansions", "author_id")
	query.Set("user.fields", "username,name,profile_image_url")
	if t.cursors != nil {
		sinceID, err := t.cursors.Get(ctx, store.PlatformTwitter, person.PlatformAccountID)
		if err != nil {
			return Payload{}, fmt.Errorf("load cursor: %w", err)
		}
		if sinceID != "" {
			query.Set("since_id", sinceID)
		}
	}
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets?%s", t.baseURL, url.PathEscape(person.PlatformAccountID), query.Encode())
	body, err := t.fetcher.Get(ctx, endpoint, t.header())
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Platform:  store.PlatformTwitter,
		AccountID: person.PlatformAccountID,
		Username:  person.Username,
		Format:    FormatJSON,
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

type twitterUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type twitterTimeline struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
		Entities  struct {
			Hashtags []struct {
				Tag string `json:"tag"`
			} `json:"hashtags"`
		} `json:"entities"`
	} `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func (t *Twitter) Normalize(payload Payload) ([]Item, error) {
	var timeline twitterTimeline
	if err := json.Unmarshal(payload.Body, &timeline); err != nil {
		return nil, fmt.Errorf("decode twitter timeline: %w", err)
	}
	users := make(map[string]twitterUser, len(timeline.Includes.Users))
	for _, user := range timeline.Includes.Users {
		users[user.ID] = user
	}

	items := make([]Item, 0, len(timeline.Data))
	for _, tweet := range timeline.Data {
		author := users[tweet.AuthorID]
		item := Item{
			ExternalID:      tweet.ID,
			AuthorAccountID: tweet.AuthorID,
			AuthorUsername:  author.Username,
			AuthorName:      author.Name,
			AuthorAvatar:    author.ProfileImageURL,
			Text:            tweet.Text,
		}
		if author.Username != "" && tweet.ID != "" {
			item.Link = fmt.Sprintf("https://twitter.com/%s/status/%s", author.Username, tweet.ID)
		}
		for _, tag := range tweet.Entities.Hashtags {
			item.Tags = append(item.Tags, strings.ToLower(tag.Tag))
		}
		if len(item.Tags) == 0 {
			item.Tags = Hashtags(tweet.Text)
		}
		if published, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
			item.PublishedAt = published.UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

// Commit stores meta.newest_id so the next poll starts after it.
func (t *Twitter) Commit(ctx context.Context, payload Payload) error {
	if t.cursors == nil {
		return nil
	}
	var timeline twitterTimeline
	if err := json.Unmarshal(payload.Body, &timeline); err != nil {
		return fmt.Errorf("decode twitter timeline: %w", err)
	}
	if timeline.Meta.NewestID == "" {
		return nil
	}
	return t.cursors.Set(ctx, store.PlatformTwitter, payload.AccountID, timeline.Meta.NewestID)
}

func (t *Twitter) FetchProfile(ctx context.Context, person store.Person) (Profile, error) {
	endpoint := fmt.Sprintf("%s/2/users/%s?user.fields=username,name,profile_image_url", t.baseURL, url.PathEscape(person.PlatformAccountID))
	body, err := t.fetcher.Get(ctx, endpoint, t.header())
	if err != nil {
		return Profile{}, err
	}
	var envelope struct {
		Data twitterUser `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Profile{}, fmt.Errorf("decode twitter profile: %w", err)
	}
	return Profile{
		AccountID: envelope.Data.ID,
		Username:  envelope.Data.Username,
		Name:      envelope.Data.Name,
		AvatarURL: envelope.Data.ProfileImageURL,
	}, nil
}

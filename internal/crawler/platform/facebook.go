package platform

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"myriad/api/internal/store"
)

// Facebook reads page posts through an RSSHub instance, since the platform
// has no public feed API.
type Facebook struct {
	baseURL string
	fetcher *Fetcher
	parser  *gofeed.Parser
}

func NewFacebook(rsshubURL string, fetcher *Fetcher) *Facebook {
	return &Facebook{
		baseURL: strings.TrimRight(rsshubURL, "/"),
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
	}
}

func (f *Facebook) Platform() store.Platform { return store.PlatformFacebook }

func (f *Facebook) Fetch(ctx context.Context, person store.Person) (Payload, error) {
	page := person.Username
	if page == "" {
		page = person.PlatformAccountID
	}
	endpoint := fmt.Sprintf("%s/facebook/page/%s", f.baseURL, url.PathEscape(page))
	body, err := f.fetcher.Get(ctx, endpoint, nil)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Platform:  store.PlatformFacebook,
		AccountID: person.PlatformAccountID,
		Username:  person.Username,
		Format:    FormatXML,
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

var facebookPostID = []*regexp.Regexp{
	regexp.MustCompile(`/posts/(?:[\w.]+/)?(\w+)`),
	regexp.MustCompile(`story_fbid=(\w+)`),
	regexp.MustCompile(`fbid=(\w+)`),
	regexp.MustCompile(`/(\d{6,})/?(?:\?|$)`),
}

// facebookTextID pulls the post id out of a permalink, falling back to the
// feed GUID when the link has an unknown shape.
func facebookTextID(link, guid string) string {
	for _, pattern := range facebookPostID {
		if match := pattern.FindStringSubmatch(link); match != nil {
			return match[1]
		}
	}
	return strings.TrimSpace(guid)
}

func (f *Facebook) Normalize(payload Payload) ([]Item, error) {
	feed, err := f.parser.ParseString(string(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("parse facebook feed: %w", err)
	}
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		body := entry.Content
		if body == "" {
			body = entry.Description
		}
		text := htmlText(body)
		item := Item{
			ExternalID:      facebookTextID(entry.Link, entry.GUID),
			AuthorAccountID: payload.AccountID,
			AuthorUsername:  payload.Username,
			AuthorName:      feed.Title,
			Title:           strings.TrimSpace(entry.Title),
			Text:            text,
			Link:            entry.Link,
			Tags:            Hashtags(entry.Title, text),
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed.UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}

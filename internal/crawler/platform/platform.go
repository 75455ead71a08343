// Package platform holds one adapter per external social platform. Every
// adapter exposes the same fetch-then-normalize contract so the reconcile
// loop never branches on payload format.
package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"myriad/api/internal/store"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// Payload is the raw response of one fetch for one Person.
type Payload struct {
	Platform  store.Platform
	AccountID string
	Username  string
	Format    Format
	Body      []byte
	FetchedAt time.Time
}

// Item is a feed entry in the platform-neutral shape.
type Item struct {
	ExternalID      string
	AuthorAccountID string
	AuthorUsername  string
	AuthorName      string
	AuthorAvatar    string
	Title           string
	Text            string
	Link            string
	Tags            []string
	PublishedAt     time.Time
}

var ErrMalformedItem = errors.New("malformed feed item")

// Validate reports whether the item carries enough to be imported.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ExternalID) == "" {
		return fmt.Errorf("%w: missing external id", ErrMalformedItem)
	}
	if strings.TrimSpace(i.AuthorAccountID) == "" {
		return fmt.Errorf("%w: item %s has no author", ErrMalformedItem, i.ExternalID)
	}
	return nil
}

// Profile is the display metadata of an external account.
type Profile struct {
	AccountID string
	Username  string
	Name      string
	AvatarURL string
}

type Adapter interface {
	Platform() store.Platform
	Fetch(ctx context.Context, person store.Person) (Payload, error)
	Normalize(payload Payload) ([]Item, error)
}

// ProfileFetcher is implemented by adapters that can refresh a Person's
// display metadata.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, person store.Person) (Profile, error)
}

// Checkpointer is implemented by adapters that page incrementally. Commit is
// called once every item of a payload has been processed.
type Checkpointer interface {
	Commit(ctx context.Context, payload Payload) error
}

// CursorStore persists the last seen upstream id per account.
type CursorStore interface {
	Get(ctx context.Context, platform store.Platform, accountID string) (string, error)
	Set(ctx context.Context, platform store.Platform, accountID, value string) error
}

var hashtagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_]+)`)

// Hashtags extracts unique lowercase hashtags in order of appearance.
func Hashtags(texts ...string) []string {
	seen := make(map[string]struct{})
	tags := make([]string, 0)
	for _, text := range texts {
		for _, match := range hashtagPattern.FindAllStringSubmatch(text, -1) {
			tag := strings.ToLower(match[1])
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	return tags
}

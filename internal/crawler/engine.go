// Package crawler reconciles externally fetched posts and identities with the
// local store.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/crawler/platform"
	"myriad/api/internal/metrics"
	"myriad/api/internal/store"
	"myriad/api/internal/util"
)

const defaultFetchTimeout = 15 * time.Second

var (
	ErrUnknownPlatform     = errors.New("no adapter registered for platform")
	ErrProfilesUnsupported = errors.New("platform adapter cannot fetch profiles")
)

// TombstoneMarkers are the literal texts platforms leave behind when content
// is removed upstream.
var TombstoneMarkers = []string{
	"[removed]",
	"[deleted]",
	"This Tweet was deleted by the Tweet author.",
	"This Tweet is from a suspended account.",
	"This content isn't available right now",
}

type dataStore interface {
	ListPeople(context.Context, store.Platform) ([]store.Person, error)
	FindPerson(context.Context, store.Platform, string) (store.Person, error)
	CreatePerson(context.Context, store.Person) (store.Person, error)
	UpdatePersonProfile(context.Context, store.Person) error
	FindCredentialByPerson(context.Context, string) (store.Credential, error)
	PostExists(context.Context, store.Platform, string) (bool, error)
	CreateImportedPost(context.Context, store.ImportedPost) (store.ImportedPost, error)
	ReassignPostWallets(context.Context, string, string) (int64, error)
	ListPostsWithText(context.Context, []string) ([]store.ImportedPost, error)
	DeleteImportedPost(context.Context, string) error
}

// AddressDeriver computes the custodial wallet for a post with no verified owner.
type AddressDeriver interface {
	CustodialAddress(postID string) string
}

// Archiver keeps a copy of raw fetch payloads.
type Archiver interface {
	Put(ctx context.Context, payload platform.Payload) error
}

// Indexer mirrors imported posts into the search index.
type Indexer interface {
	IndexPost(post store.ImportedPost)
	DeletePost(id string)
}

type Options struct {
	// FetchTimeout bounds one upstream fetch for one Person.
	FetchTimeout time.Duration
	Archive      Archiver
	Index        Indexer
	Metrics      *metrics.Metrics
}

type Engine struct {
	store        dataStore
	deriver      AddressDeriver
	adapters     map[store.Platform]platform.Adapter
	fetchTimeout time.Duration
	archive      Archiver
	index        Indexer
	metrics      *metrics.Metrics
}

func NewEngine(s dataStore, deriver AddressDeriver, adapters []platform.Adapter, opts Options) *Engine {
	byPlatform := make(map[store.Platform]platform.Adapter, len(adapters))
	for _, adapter := range adapters {
		byPlatform[adapter.Platform()] = adapter
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Engine{
		store:        s,
		deriver:      deriver,
		adapters:     byPlatform,
		fetchTimeout: timeout,
		archive:      opts.Archive,
		index:        opts.Index,
		metrics:      opts.Metrics,
	}
}

// Platforms lists the platforms with a registered adapter.
func (e *Engine) Platforms() []store.Platform {
	items := make([]store.Platform, 0, len(e.adapters))
	for p := range e.adapters {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Summary counts what one reconcile run did.
type Summary struct {
	Platform      store.Platform `json:"platform"`
	People        int            `json:"people"`
	FailedFetches int            `json:"failedFetches"`
	Created       int            `json:"created"`
	Duplicates    int            `json:"duplicates"`
	FailedItems   int            `json:"failedItems"`
	// Error is set by callers that run several platforms and keep going
	// after one of them fails.
	Error string `json:"error,omitempty"`
}

// Reconcile fetches the feed of every known Person on p and imports posts not
// seen before. People are processed one at a time. Per-person and per-item
// failures are logged and skipped; only failing to list people is returned.
func (e *Engine) Reconcile(ctx context.Context, p store.Platform) (Summary, error) {
	summary := Summary{Platform: p}
	adapter, ok := e.adapters[p]
	if !ok {
		return summary, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	started := time.Now()
	defer func() {
		e.metrics.ObserveReconcile(string(p), time.Since(started).Seconds())
	}()

	people, err := e.store.ListPeople(ctx, p)
	if err != nil {
		return summary, fmt.Errorf("list %s people: %w", p, err)
	}
	summary.People = len(people)

	for _, person := range people {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		e.reconcilePerson(ctx, adapter, person, &summary)
	}

	log.WithFields(log.Fields{
		"platform":       p,
		"people":         summary.People,
		"created":        summary.Created,
		"duplicates":     summary.Duplicates,
		"failed_items":   summary.FailedItems,
		"failed_fetches": summary.FailedFetches,
		"took":           time.Since(started).Round(time.Millisecond).String(),
	}).Info("reconcile finished")
	return summary, nil
}

func (e *Engine) reconcilePerson(ctx context.Context, adapter platform.Adapter, person store.Person, summary *Summary) {
	p := adapter.Platform()
	logger := log.WithFields(log.Fields{"platform": p, "person": person.ID, "account": person.PlatformAccountID})

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	payload, err := adapter.Fetch(fetchCtx, person)
	cancel()
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		e.metrics.CrawlFetch(string(p), status)
		summary.FailedFetches++
		logger.WithError(err).Warnf("fetch failed (%s)", status)
		return
	}
	e.metrics.CrawlFetch(string(p), "ok")

	if e.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
		if err := e.archive.Put(archiveCtx, payload); err != nil {
			logger.WithError(err).Warn("archive payload failed")
		}
		cancel()
	}

	items, err := adapter.Normalize(payload)
	if err != nil {
		summary.FailedFetches++
		logger.WithError(err).Warn("normalize payload failed")
		return
	}

	complete := true
	for _, item := range items {
		created, err := e.importItem(ctx, p, item)
		switch {
		case err != nil:
			summary.FailedItems++
			e.metrics.CrawlItem(string(p), "failed")
			logger.WithError(err).WithField("text_id", item.ExternalID).Warn("import item failed")
			if !errors.Is(err, platform.ErrMalformedItem) {
				complete = false
			}
		case created:
			summary.Created++
			e.metrics.CrawlItem(string(p), "created")
		default:
			summary.Duplicates++
			e.metrics.CrawlItem(string(p), "duplicate")
		}
	}

	if checkpointer, ok := adapter.(platform.Checkpointer); ok && complete {
		if err := checkpointer.Commit(ctx, payload); err != nil {
			logger.WithError(err).Warn("commit cursor failed")
		}
	}
}

// importItem stores one feed item. It reports false without error when the
// post already exists, including when a concurrent run inserted it first.
func (e *Engine) importItem(ctx context.Context, p store.Platform, item platform.Item) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, err
	}

	exists, err := e.store.PostExists(ctx, p, item.ExternalID)
	if err != nil {
		return false, fmt.Errorf("check post: %w", err)
	}
	if exists {
		return false, nil
	}

	author, err := e.ensureAuthor(ctx, p, item)
	if err != nil {
		return false, err
	}

	post := store.ImportedPost{
		ID:          util.NewID("post"),
		Platform:    p,
		TextID:      item.ExternalID,
		PeopleID:    author.ID,
		Title:       item.Title,
		Text:        item.Text,
		Tags:        item.Tags,
		Link:        item.Link,
		PublishedAt: item.PublishedAt,
	}
	// The store substitutes the verified owner's key when there is one.
	post.WalletAddress = e.deriver.CustodialAddress(post.ID)

	created, err := e.store.CreateImportedPost(ctx, post)
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create post: %w", err)
	}
	if err := e.settleWallet(ctx, created); err != nil {
		log.WithError(err).WithFields(log.Fields{"platform": p, "post": created.ID}).Warn("settle post wallet failed")
	}
	if e.index != nil {
		e.index.IndexPost(created)
	}
	return true, nil
}

// ensureAuthor returns the Person for the item's author, creating it when the
// feed names an account not seen before (reposts, retweets).
func (e *Engine) ensureAuthor(ctx context.Context, p store.Platform, item platform.Item) (store.Person, error) {
	person, err := e.store.FindPerson(ctx, p, item.AuthorAccountID)
	if err == nil {
		return person, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Person{}, fmt.Errorf("find author: %w", err)
	}

	person, err = e.store.CreatePerson(ctx, store.Person{
		ID:                util.NewID("ppl"),
		Platform:          p,
		PlatformAccountID: item.AuthorAccountID,
		Username:          item.AuthorUsername,
		Name:              item.AuthorName,
		ProfilePictureURL: item.AuthorAvatar,
	})
	if errors.Is(err, store.ErrConflict) {
		person, err = e.store.FindPerson(ctx, p, item.AuthorAccountID)
		if err != nil {
			return store.Person{}, fmt.Errorf("find author after conflict: %w", err)
		}
		return person, nil
	}
	if err != nil {
		return store.Person{}, fmt.Errorf("create author: %w", err)
	}
	e.metrics.PersonCreated(string(p))
	return person, nil
}

// settleWallet moves a just-created post to its author's verified key when
// the credential was verified while the post was being inserted. Either this
// check sees the credential or the linker's reassign sees the committed post.
func (e *Engine) settleWallet(ctx context.Context, post store.ImportedPost) error {
	credential, err := e.store.FindCredentialByPerson(ctx, post.PeopleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find author credential: %w", err)
	}
	if !credential.IsVerified || credential.UserID == post.WalletAddress {
		return nil
	}
	if _, err := e.store.ReassignPostWallets(ctx, post.PeopleID, credential.UserID); err != nil {
		return fmt.Errorf("reassign post wallets: %w", err)
	}
	return nil
}

// PurgeRemovedContent deletes posts whose text or title is a tombstone
// marker. Individual delete failures are logged and skipped.
func (e *Engine) PurgeRemovedContent(ctx context.Context) (int, error) {
	posts, err := e.store.ListPostsWithText(ctx, TombstoneMarkers)
	if err != nil {
		return 0, fmt.Errorf("list removed posts: %w", err)
	}

	deleted := 0
	for _, post := range posts {
		err := e.store.DeleteImportedPost(ctx, post.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithFields(log.Fields{"post": post.ID, "platform": post.Platform}).Warn("purge post failed")
			continue
		}
		if e.index != nil {
			e.index.DeletePost(post.ID)
		}
		if err == nil {
			deleted++
			e.metrics.PostPurged()
		}
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("purged removed content")
	}
	return deleted, nil
}

// RefreshProfiles re-reads display metadata for every Person on p. Blank
// upstream fields keep the stored value.
func (e *Engine) RefreshProfiles(ctx context.Context, p store.Platform) (int, error) {
	adapter, ok := e.adapters[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	fetcher, ok := adapter.(platform.ProfileFetcher)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProfilesUnsupported, p)
	}

	people, err := e.store.ListPeople(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("list %s people: %w", p, err)
	}

	updated := 0
	for _, person := range people {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
		profile, err := fetcher.FetchProfile(fetchCtx, person)
		cancel()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"platform": p, "person": person.ID}).Warn("profile fetch failed")
			continue
		}

		next := person
		next.Username = util.FirstNonEmpty(profile.Username, person.Username)
		next.Name = util.FirstNonEmpty(profile.Name, person.Name)
		next.ProfilePictureURL = util.FirstNonEmpty(profile.AvatarURL, person.ProfilePictureURL)
		if next.Username == person.Username && next.Name == person.Name && next.ProfilePictureURL == person.ProfilePictureURL {
			continue
		}
		if err := e.store.UpdatePersonProfile(ctx, next); err != nil {
			log.WithError(err).WithFields(log.Fields{"platform": p, "person": person.ID}).Warn("profile update failed")
			continue
		}
		updated++
	}
	return updated, nil
}

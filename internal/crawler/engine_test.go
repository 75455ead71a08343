package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myriad/api/internal/crawler/platform"
	"myriad/api/internal/store"
	"myriad/api/internal/wallet"
)

type fakeAdapter struct {
	platform store.Platform

	mu       sync.Mutex
	feeds    map[string][]platform.Item
	fetchErr map[string]error
	hang     map[string]bool
	profiles map[string]platform.Profile
	commits  []string
}

func newFakeAdapter(p store.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		feeds:    make(map[string][]platform.Item),
		fetchErr: make(map[string]error),
		hang:     make(map[string]bool),
		profiles: make(map[string]platform.Profile),
	}
}

func (f *fakeAdapter) Platform() store.Platform { return f.platform }

func (f *fakeAdapter) Fetch(ctx context.Context, person store.Person) (platform.Payload, error) {
	f.mu.Lock()
	hang := f.hang[person.PlatformAccountID]
	err := f.fetchErr[person.PlatformAccountID]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return platform.Payload{}, ctx.Err()
	}
	if err != nil {
		return platform.Payload{}, err
	}
	return platform.Payload{
		Platform:  f.platform,
		AccountID: person.PlatformAccountID,
		Username:  person.Username,
		Format:    platform.FormatJSON,
		Body:      []byte(`{}`),
		FetchedAt: time.Now(),
	}, nil
}

func (f *fakeAdapter) Normalize(payload platform.Payload) ([]platform.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Item(nil), f.feeds[payload.AccountID]...), nil
}

func (f *fakeAdapter) Commit(_ context.Context, payload platform.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, payload.AccountID)
	return nil
}

func (f *fakeAdapter) FetchProfile(_ context.Context, person store.Person) (platform.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[person.PlatformAccountID]
	if !ok {
		return platform.Profile{}, errors.New("profile unavailable")
	}
	return profile, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeIndex) IndexPost(post store.ImportedPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, post.ID)
}

func (f *fakeIndex) DeletePost(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeArchive struct {
	mu    sync.Mutex
	puts  int
	fails bool
}

func (f *fakeArchive) Put(context.Context, platform.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.fails {
		return errors.New("bucket unavailable")
	}
	return nil
}

func seedPerson(t *testing.T, mem *store.MemoryStore, id string, p store.Platform, accountID string) store.Person {
	t.Helper()
	person, err := mem.CreatePerson(context.Background(), store.Person{
		ID: id, Platform: p, PlatformAccountID: accountID, Username: "user" + accountID,
	})
	require.NoError(t, err)
	return person
}

func item(id, author string) platform.Item {
	return platform.Item{
		ExternalID:      id,
		AuthorAccountID: author,
		AuthorUsername:  "user" + author,
		Text:            "post " + id,
		Link:            "https://example.com/" + id,
		Tags:            []string{"tag"},
		PublishedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(t *testing.T, mem *store.MemoryStore, adapters []platform.Adapter, opts Options) *Engine {
	t.Helper()
	deriver, err := wallet.NewDeriver("test-seed")
	require.NoError(t, err)
	return NewEngine(mem, deriver, adapters, opts)
}

func TestReconcileIsIdempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPerson(t, mem, "ppl_1", store.PlatformReddit, "u1")
	adapter := newFakeAdapter(store.PlatformReddit)
	adapter.feeds["u1"] = []platform.Item{item("a", "u1"), item("b", "u1")}
	index := &fakeIndex{}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{Index: index})
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, store.PlatformReddit)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Len(t, index.indexed, 2)

	// Upstream reorders the feed; dedup is by text id only.
	adapter.feeds["u1"] = []platform.Item{item("b", "u1"), item("a", "u1")}
	second, err := engine.Reconcile(ctx, store.PlatformReddit)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Duplicates)
	assert.Len(t, mem.Posts(), 2)

	for _, post := range mem.Posts() {
		metric, err := mem.GetPublicMetric(ctx, store.ReferencePost, post.ID)
		require.NoError(t, err)
		assert.Zero(t, metric.Likes)
	}
}

func TestReconcileCreatesRepostAuthorsOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPerson(t, mem, "ppl_1", store.PlatformTwitter, "1")
	seedPerson(t, mem, "ppl_2", store.PlatformTwitter, "2")
	adapter := newFakeAdapter(store.PlatformTwitter)
	// Both polled accounts retweeted the same post by account 9.
	adapter.feeds["1"] = []platform.Item{item("t1", "1"), item("t9", "9")}
	adapter.feeds["2"] = []platform.Item{item("t2", "2"), item("t9", "9"), item("t10", "9")}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{})

	for i := 0; i < 2; i++ {
		_, err := engine.Reconcile(context.Background(), store.PlatformTwitter)
		require.NoError(t, err)
	}

	assertUniquePeople(t, mem.AllPeople())
	assert.Len(t, mem.AllPeople(), 3)
	assert.Len(t, mem.Posts(), 4)

	reposter, err := mem.FindPerson(context.Background(), store.PlatformTwitter, "9")
	require.NoError(t, err)
	assert.Equal(t, "user9", reposter.Username)
}

func TestOverlappingRunsStayConsistent(t *testing.T) {
	mem := store.NewMemoryStore()
	adapter := newFakeAdapter(store.PlatformReddit)
	for _, account := range []string{"u1", "u2", "u3"} {
		seedPerson(t, mem, "ppl_"+account, store.PlatformReddit, account)
		adapter.feeds[account] = []platform.Item{item(account+"-a", account), item("shared", "u9"), item(account+"-b", "u8")}
	}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reconcile(context.Background(), store.PlatformReddit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertUniquePeople(t, mem.AllPeople())
	assert.Len(t, mem.Posts(), 7)
	seen := make(map[string]bool)
	for _, post := range mem.Posts() {
		assert.False(t, seen[post.TextID], "duplicate post %s", post.TextID)
		seen[post.TextID] = true
	}
}

func assertUniquePeople(t *testing.T, people []store.Person) {
	t.Helper()
	seen := make(map[string]bool)
	for _, person := range people {
		key := string(person.Platform) + ":" + person.PlatformAccountID
		assert.False(t, seen[key], "duplicate person %s", key)
		seen[key] = true
	}
}

func TestReconcileAssignsWallets(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	owned := seedPerson(t, mem, "ppl_owned", store.PlatformReddit, "u1")
	pending := seedPerson(t, mem, "ppl_pending", store.PlatformReddit, "u2")
	seedPerson(t, mem, "ppl_free", store.PlatformReddit, "u3")
	_, err := mem.CreateCredential(ctx, store.Credential{ID: "c1", PeopleID: owned.ID, UserID: "0xAA", Platform: store.PlatformReddit, IsVerified: true})
	require.NoError(t, err)
	_, err = mem.CreateCredential(ctx, store.Credential{ID: "c2", PeopleID: pending.ID, UserID: "0xBB", Platform: store.PlatformReddit})
	require.NoError(t, err)

	adapter := newFakeAdapter(store.PlatformReddit)
	adapter.feeds["u1"] = []platform.Item{item("owned", "u1")}
	adapter.feeds["u2"] = []platform.Item{item("pending", "u2")}
	adapter.feeds["u3"] = []platform.Item{item("free-1", "u3"), item("free-2", "u3")}
	deriver, err := wallet.NewDeriver("test-seed")
	require.NoError(t, err)
	engine := NewEngine(mem, deriver, []platform.Adapter{adapter}, Options{})

	_, err = engine.Reconcile(ctx, store.PlatformReddit)
	require.NoError(t, err)

	wallets := make(map[string]string)
	for _, post := range mem.Posts() {
		wallets[post.TextID] = post.WalletAddress
		if post.TextID != "owned" {
			assert.Equal(t, deriver.CustodialAddress(post.ID), post.WalletAddress, post.TextID)
		}
	}
	assert.Equal(t, "0xAA", wallets["owned"])
	assert.NotEqual(t, wallets["free-1"], wallets["free-2"])
}

// linkingStore verifies a credential for every post author while the post is
// being inserted, the way a concurrent LinkAccount would.
type linkingStore struct {
	*store.MemoryStore
	owner string
	// beforeInsert commits verify and reassign before the insert. Otherwise the
	// credential lands after the insert read it, and the reassign already ran.
	beforeInsert bool
}

func (s *linkingStore) CreateImportedPost(ctx context.Context, post store.ImportedPost) (store.ImportedPost, error) {
	verify := func() {
		_, _ = s.MemoryStore.CreateCredential(ctx, store.Credential{
			ID: "cred_" + post.PeopleID, PeopleID: post.PeopleID, UserID: s.owner, Platform: post.Platform, IsVerified: true,
		})
	}
	if s.beforeInsert {
		verify()
		_, _ = s.MemoryStore.ReassignPostWallets(ctx, post.PeopleID, s.owner)
		return s.MemoryStore.CreateImportedPost(ctx, post)
	}
	created, err := s.MemoryStore.CreateImportedPost(ctx, post)
	if err == nil {
		verify()
	}
	return created, err
}

func TestReconcileWalletFollowsConcurrentVerification(t *testing.T) {
	for _, beforeInsert := range []bool{true, false} {
		mem := store.NewMemoryStore()
		seedPerson(t, mem, "ppl_1", store.PlatformReddit, "u1")
		adapter := newFakeAdapter(store.PlatformReddit)
		adapter.feeds["u1"] = []platform.Item{item("p1", "u1")}
		deriver, err := wallet.NewDeriver("test-seed")
		require.NoError(t, err)
		engine := NewEngine(&linkingStore{MemoryStore: mem, owner: "0xAA", beforeInsert: beforeInsert}, deriver, []platform.Adapter{adapter}, Options{})

		summary, err := engine.Reconcile(context.Background(), store.PlatformReddit)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Created)

		posts := mem.Posts()
		require.Len(t, posts, 1)
		assert.Equal(t, "0xAA", posts[0].WalletAddress, "beforeInsert=%v", beforeInsert)
	}
}

func TestReconcileSkipsMalformedItemsAndFailedFetches(t *testing.T) {
	mem := store.NewMemoryStore()
	for _, account := range []string{"u1", "u2", "u3"} {
		seedPerson(t, mem, "ppl_"+account, store.PlatformReddit, account)
	}
	adapter := newFakeAdapter(store.PlatformReddit)
	adapter.feeds["u1"] = []platform.Item{item("", "u1"), item("ok-1", "u1"), item("no-author", "")}
	adapter.fetchErr["u2"] = &platform.StatusError{URL: "http://reddit/u2", StatusCode: 503}
	adapter.feeds["u3"] = []platform.Item{item("ok-3", "u3")}
	archive := &fakeArchive{fails: true}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{Archive: archive})

	summary, err := engine.Reconcile(context.Background(), store.PlatformReddit)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 2, summary.FailedItems)
	assert.Equal(t, 1, summary.FailedFetches)
	assert.Equal(t, 2, archive.puts)
	assert.Len(t, mem.Posts(), 2)

	// Malformed items do not hold back the cursor.
	assert.ElementsMatch(t, []string{"u1", "u3"}, adapter.commits)
}

func TestReconcileTimesOutHungFetch(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPerson(t, mem, "ppl_1", store.PlatformFacebook, "hung")
	seedPerson(t, mem, "ppl_2", store.PlatformFacebook, "fine")
	adapter := newFakeAdapter(store.PlatformFacebook)
	adapter.hang["hung"] = true
	adapter.feeds["fine"] = []platform.Item{item("p1", "fine")}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{FetchTimeout: 30 * time.Millisecond})

	done := make(chan Summary, 1)
	go func() {
		summary, err := engine.Reconcile(context.Background(), store.PlatformFacebook)
		assert.NoError(t, err)
		done <- summary
	}()

	select {
	case summary := <-done:
		assert.Equal(t, 1, summary.FailedFetches)
		assert.Equal(t, 1, summary.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile blocked on a hung fetch")
	}
}

func TestReconcileUnknownPlatform(t *testing.T) {
	engine := newTestEngine(t, store.NewMemoryStore(), nil, Options{})
	_, err := engine.Reconcile(context.Background(), store.PlatformTwitter)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestPurgeRemovedContent(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPerson(t, mem, "ppl_1", store.PlatformReddit, "u1")
	adapter := newFakeAdapter(store.PlatformReddit)
	removed := item("gone", "u1")
	removed.Text = "[removed]"
	deletedTitle := item("gone-title", "u1")
	deletedTitle.Title = " [deleted] "
	deletedTitle.Text = ""
	kept := item("kept", "u1")
	kept.Text = "discussing [removed] posts"
	adapter.feeds["u1"] = []platform.Item{removed, deletedTitle, kept}
	index := &fakeIndex{}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{Index: index})
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, store.PlatformReddit)
	require.NoError(t, err)
	require.Len(t, mem.Posts(), 3)

	deleted, err := engine.PurgeRemovedContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	require.Len(t, mem.Posts(), 1)
	assert.Equal(t, "kept", mem.Posts()[0].TextID)
	assert.Len(t, index.deleted, 2)

	deleted, err = engine.PurgeRemovedContent(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRefreshProfiles(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPerson(t, mem, "ppl_1", store.PlatformTwitter, "1")
	seedPerson(t, mem, "ppl_2", store.PlatformTwitter, "2")
	adapter := newFakeAdapter(store.PlatformTwitter)
	adapter.profiles["1"] = platform.Profile{Name: "Alice", AvatarURL: "https://pbs/a.jpg"}
	engine := newTestEngine(t, mem, []platform.Adapter{adapter}, Options{})
	ctx := context.Background()

	updated, err := engine.RefreshProfiles(ctx, store.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	person, err := mem.GetPerson(ctx, "ppl_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", person.Name)
	assert.Equal(t, "user1", person.Username)
	assert.Equal(t, "https://pbs/a.jpg", person.ProfilePictureURL)

	updated, err = engine.RefreshProfiles(ctx, store.PlatformTwitter)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestPlatforms(t *testing.T) {
	engine := newTestEngine(t, store.NewMemoryStore(), []platform.Adapter{
		newFakeAdapter(store.PlatformTwitter),
		newFakeAdapter(store.PlatformFacebook),
		newFakeAdapter(store.PlatformReddit),
	}, Options{})
	assert.Equal(t, []store.Platform{store.PlatformFacebook, store.PlatformReddit, store.PlatformTwitter}, engine.Platforms())
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process store that enforces the same unique
// constraints as the SQL schema. Engines are exercised against it in tests.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	users       map[string]User
	people      map[string]Person
	credentials map[string]Credential
	posts       map[string]ImportedPost
	comments    map[string]Comment
	marks       map[EngagementKey]EngagementMark
	metrics     map[metricKey]PublicMetric
}

type metricKey struct {
	refType ReferenceType
	refID   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		users:       make(map[string]User),
		people:      make(map[string]Person),
		credentials: make(map[string]Credential),
		posts:       make(map[string]ImportedPost),
		comments:    make(map[string]Comment),
		marks:       make(map[EngagementKey]EngagementMark),
		metrics:     make(map[metricKey]PublicMetric),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) EnsureUser(_ context.Context, publicKey string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[publicKey]
	if !ok {
		user = User{ID: publicKey, CreatedAt: m.now()}
		m.users[publicKey] = user
	}
	return user, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryStore) FindPerson(_ context.Context, platform Platform, accountID string) (Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, person := range m.people {
		if person.Platform == platform && person.PlatformAccountID == accountID {
			return person, nil
		}
	}
	return Person{}, ErrNotFound
}

func (m *MemoryStore) GetPerson(_ context.Context, id string) (Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	person, ok := m.people[id]
	if !ok {
		return Person{}, ErrNotFound
	}
	return person, nil
}

func (m *MemoryStore) ListPeople(_ context.Context, platform Platform) ([]Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Person, 0)
	for _, person := range m.people {
		if person.Platform == platform {
			items = append(items, person)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) CreatePerson(_ context.Context, person Person) (Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.people[person.ID]; ok {
		return Person{}, ErrConflict
	}
	for _, existing := range m.people {
		if existing.Platform == person.Platform && existing.PlatformAccountID == person.PlatformAccountID {
			return Person{}, ErrConflict
		}
	}
	now := m.now()
	person.CreatedAt, person.UpdatedAt = now, now
	m.people[person.ID] = person
	return person, nil
}

func (m *MemoryStore) UpdatePersonProfile(_ context.Context, person Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.people[person.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Username = person.Username
	existing.Name = person.Name
	existing.ProfilePictureURL = person.ProfilePictureURL
	existing.UpdatedAt = m.now()
	m.people[person.ID] = existing
	return nil
}

func (m *MemoryStore) FindCredentialByUser(_ context.Context, userID string, platform Platform) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, credential := range m.credentials {
		if credential.UserID == userID && credential.Platform == platform {
			return credential, nil
		}
	}
	return Credential{}, ErrNotFound
}

func (m *MemoryStore) FindCredentialByPerson(_ context.Context, peopleID string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, credential := range m.credentials {
		if credential.PeopleID == peopleID {
			return credential, nil
		}
	}
	return Credential{}, ErrNotFound
}

func (m *MemoryStore) GetCredential(_ context.Context, id string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.credentials[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return credential, nil
}

func (m *MemoryStore) CreateCredential(_ context.Context, credential Credential) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[credential.ID]; ok {
		return Credential{}, ErrConflict
	}
	for _, existing := range m.credentials {
		if existing.UserID == credential.UserID && existing.Platform == credential.Platform {
			return Credential{}, ErrConflict
		}
		if existing.PeopleID == credential.PeopleID && existing.Platform == credential.Platform {
			return Credential{}, ErrConflict
		}
	}
	now := m.now()
	credential.CreatedAt, credential.UpdatedAt = now, now
	m.credentials[credential.ID] = credential
	return credential, nil
}

func (m *MemoryStore) ClaimPendingCredential(_ context.Context, id, userID string, verify bool) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.credentials[id]
	if !ok || credential.IsVerified {
		return Credential{}, ErrNotFound
	}
	for otherID, other := range m.credentials {
		if otherID != id && other.UserID == userID && other.Platform == credential.Platform {
			return Credential{}, ErrConflict
		}
	}
	credential.UserID = userID
	credential.IsVerified = verify
	credential.UpdatedAt = m.now()
	m.credentials[id] = credential
	return credential, nil
}

func (m *MemoryStore) DeleteCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, id)
	return nil
}

func (m *MemoryStore) PostExists(_ context.Context, platform Platform, textID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, post := range m.posts {
		if post.Platform == platform && post.TextID == textID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetImportedPost(_ context.Context, id string) (ImportedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok {
		return ImportedPost{}, ErrNotFound
	}
	return post, nil
}

func (m *MemoryStore) CreateImportedPost(_ context.Context, post ImportedPost) (ImportedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.ID]; ok {
		return ImportedPost{}, ErrConflict
	}
	for _, existing := range m.posts {
		if existing.Platform == post.Platform && existing.TextID == post.TextID {
			return ImportedPost{}, ErrConflict
		}
	}
	if _, ok := m.people[post.PeopleID]; !ok {
		return ImportedPost{}, ErrNotFound
	}
	for _, credential := range m.credentials {
		if credential.PeopleID == post.PeopleID && credential.IsVerified {
			post.WalletAddress = credential.UserID
			break
		}
	}
	now := m.now()
	post.CreatedAt, post.UpdatedAt = now, now
	if post.PublishedAt.IsZero() {
		post.PublishedAt = now
	}
	m.posts[post.ID] = post
	key := metricKey{ReferencePost, post.ID}
	if _, ok := m.metrics[key]; !ok {
		m.metrics[key] = PublicMetric{ReferenceType: ReferencePost, ReferenceID: post.ID, UpdatedAt: now}
	}
	return post, nil
}

func (m *MemoryStore) ReassignPostWallets(_ context.Context, peopleID, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for id, post := range m.posts {
		if post.PeopleID == peopleID && post.WalletAddress != address {
			post.WalletAddress = address
			post.UpdatedAt = m.now()
			m.posts[id] = post
			affected++
		}
	}
	return affected, nil
}

func (m *MemoryStore) ListPostsWithText(_ context.Context, markers []string) ([]ImportedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ImportedPost, 0)
	for _, post := range m.posts {
		text, title := strings.TrimSpace(post.Text), strings.TrimSpace(post.Title)
		for _, marker := range markers {
			if text == marker || title == marker {
				items = append(items, post)
				break
			}
		}
	}
	return items, nil
}

func (m *MemoryStore) DeleteImportedPost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return ErrNotFound
	}
	delete(m.posts, id)
	delete(m.metrics, metricKey{ReferencePost, id})
	for commentID, comment := range m.comments {
		if comment.PostID == id {
			delete(m.comments, commentID)
		}
	}
	return nil
}

func (m *MemoryStore) ToggleEngagementMark(_ context.Context, id string, key EngagementKey, kind Kind) (EngagementMark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	mark, ok := m.marks[key]
	if !ok {
		mark = EngagementMark{
			ID:          id,
			UserID:      key.UserID,
			Type:        key.Type,
			ReferenceID: key.ReferenceID,
			Kind:        kind,
			State:       true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.marks[key] = mark
		return mark, nil
	}
	if mark.Kind == kind {
		mark.State = !mark.State
	} else {
		mark.Kind = kind
		mark.State = true
	}
	mark.UpdatedAt = now
	m.marks[key] = mark
	return mark, nil
}

// MarkCount reports how many rows exist for a reference, whatever their state.
func (m *MemoryStore) MarkCount(refType ReferenceType, refID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key := range m.marks {
		if key.Type == refType && key.ReferenceID == refID {
			count++
		}
	}
	return count
}

func (m *MemoryStore) CountEngagement(_ context.Context, refType ReferenceType, refID string) (EngagementCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts EngagementCounts
	for key, mark := range m.marks {
		if key.Type != refType || key.ReferenceID != refID || !mark.State {
			continue
		}
		switch mark.Kind {
		case KindLike:
			counts.Likes++
		case KindDislike:
			counts.Dislikes++
		}
	}
	return counts, nil
}

func (m *MemoryStore) ReferenceExists(_ context.Context, refType ReferenceType, refID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch refType {
	case ReferencePost:
		_, ok := m.posts[refID]
		return ok, nil
	case ReferenceComment:
		_, ok := m.comments[refID]
		return ok, nil
	case ReferenceUser:
		_, ok := m.users[refID]
		return ok, nil
	default:
		return false, nil
	}
}

func (m *MemoryStore) InsertComment(_ context.Context, comment Comment) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[comment.PostID]; !ok {
		return Comment{}, ErrNotFound
	}
	if _, ok := m.comments[comment.ID]; ok {
		return Comment{}, ErrConflict
	}
	comment.CreatedAt = m.now()
	m.comments[comment.ID] = comment
	return comment, nil
}

func (m *MemoryStore) CountComments(_ context.Context, postID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, comment := range m.comments {
		if comment.PostID == postID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SavePublicMetric(_ context.Context, metric PublicMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric.UpdatedAt = m.now()
	m.metrics[metricKey{metric.ReferenceType, metric.ReferenceID}] = metric
	return nil
}

func (m *MemoryStore) GetPublicMetric(_ context.Context, refType ReferenceType, refID string) (PublicMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[metricKey{refType, refID}]
	if !ok {
		return PublicMetric{}, ErrNotFound
	}
	return metric, nil
}

// Posts returns a snapshot of every stored post.
func (m *MemoryStore) Posts() []ImportedPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ImportedPost, 0, len(m.posts))
	for _, post := range m.posts {
		items = append(items, post)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TextID < items[j].TextID })
	return items
}

// AllPeople returns a snapshot of every stored person.
func (m *MemoryStore) AllPeople() []Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Person, 0, len(m.people))
	for _, person := range m.people {
		items = append(items, person)
	}
	return items
}

// Credentials returns a snapshot of every stored credential.
func (m *MemoryStore) Credentials() []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Credential, 0, len(m.credentials))
	for _, credential := range m.credentials {
		items = append(items, credential)
	}
	return items
}

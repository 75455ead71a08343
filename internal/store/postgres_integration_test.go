package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedPost(t *testing.T, ctx context.Context, s *PostgresStore) (Person, ImportedPost) {
	t.Helper()
	person, err := s.CreatePerson(ctx, Person{ID: "ppl_1", Platform: PlatformReddit, PlatformAccountID: "abc", Username: "alice"})
	if err != nil {
		t.Fatalf("create person: %v", err)
	}
	post, err := s.CreateImportedPost(ctx, ImportedPost{
		ID:            "post_1",
		Platform:      PlatformReddit,
		TextID:        "t3_1",
		PeopleID:      person.ID,
		Text:          "hello",
		Tags:          []string{"go", "db"},
		WalletAddress: "0xabc",
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return person, post
}

func TestPostgresUniqueViolationsMapToConflict(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()
	person, post := seedPost(t, ctx, s)

	if _, err := s.CreatePerson(ctx, Person{ID: "ppl_2", Platform: person.Platform, PlatformAccountID: person.PlatformAccountID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate person, got %v", err)
	}
	duplicate := post
	duplicate.ID = "post_2"
	if _, err := s.CreateImportedPost(ctx, duplicate); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate post, got %v", err)
	}

	stored, err := s.GetImportedPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if len(stored.Tags) != 2 || stored.Tags[0] != "go" {
		t.Fatalf("unexpected tags %v", stored.Tags)
	}
	metric, err := s.GetPublicMetric(ctx, ReferencePost, post.ID)
	if err != nil {
		t.Fatalf("expected zeroed metric row: %v", err)
	}
	if metric.Likes != 0 || metric.Comments != 0 {
		t.Fatalf("expected zeroed metric, got %+v", metric)
	}
}

func TestPostgresVerifiedCredentialIsExclusive(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()
	person, _ := seedPost(t, ctx, s)

	if _, err := s.CreateCredential(ctx, Credential{ID: "cred_1", PeopleID: person.ID, UserID: "0xAA", Platform: person.Platform, IsVerified: true}); err != nil {
		t.Fatalf("create first credential: %v", err)
	}
	_, err := s.CreateCredential(ctx, Credential{ID: "cred_2", PeopleID: person.ID, UserID: "0xBB", Platform: person.Platform, IsVerified: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second verified owner, got %v", err)
	}
}

func TestPostgresConcurrentTogglesConvergeToOneRow(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()
	_, post := seedPost(t, ctx, s)
	key := EngagementKey{UserID: "0xAA", Type: ReferencePost, ReferenceID: post.ID}

	const n = 9
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.ToggleEngagementMark(ctx, "mark_"+string(rune('a'+i)), key, KindLike); err != nil {
				t.Errorf("toggle %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var rows int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM engagement_marks WHERE user_id=$1`, key.UserID).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly one row, got %d", rows)
	}
	var state bool
	if err := s.DB().QueryRowContext(ctx, `SELECT state FROM engagement_marks WHERE user_id=$1`, key.UserID).Scan(&state); err != nil {
		t.Fatalf("read mark state: %v", err)
	}
	if !state {
		t.Fatalf("odd number of toggles must leave state=true")
	}
	counts, err := s.CountEngagement(ctx, ReferencePost, post.ID)
	if err != nil {
		t.Fatalf("count engagement: %v", err)
	}
	if counts.Likes != 1 || counts.Dislikes != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestPostgresListPostsWithText(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()
	person, _ := seedPost(t, ctx, s)

	if _, err := s.CreateImportedPost(ctx, ImportedPost{ID: "post_gone", Platform: PlatformReddit, TextID: "t3_2", PeopleID: person.ID, Text: " [removed] ", WalletAddress: "0x1"}); err != nil {
		t.Fatalf("create removed post: %v", err)
	}
	if _, err := s.CreateImportedPost(ctx, ImportedPost{ID: "post_deleted", Platform: PlatformReddit, TextID: "t3_3", PeopleID: person.ID, Text: "[deleted]\n\t", WalletAddress: "0x2"}); err != nil {
		t.Fatalf("create deleted post: %v", err)
	}
	posts, err := s.ListPostsWithText(ctx, []string{"[removed]", "[deleted]"})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	ids := map[string]bool{}
	for _, post := range posts {
		ids[post.ID] = true
	}
	if len(posts) != 2 || !ids["post_gone"] || !ids["post_deleted"] {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if err := s.DeleteImportedPost(ctx, "post_gone"); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if err := s.DeleteImportedPost(ctx, "post_gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

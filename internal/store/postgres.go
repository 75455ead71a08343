package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	personColumns     = `id, platform, platform_account_id, username, name, profile_picture_url, created_at, updated_at`
	credentialColumns = `id, people_id, user_id, platform, is_verified, created_at, updated_at`
	postColumns       = `id, platform, text_id, people_id, title, text, tags, link, wallet_address, published_at, created_at, updated_at`
	markColumns       = `id, user_id, reference_type, reference_id, kind, state, created_at, updated_at`
	metricColumns     = `reference_type, reference_id, likes, dislikes, comments, updated_at`
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx")}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) EnsureUser(ctx context.Context, publicKey string) (User, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, publicKey); err != nil {
		return User{}, fmt.Errorf("ensure user: %w", translate(err))
	}
	return s.GetUser(ctx, publicKey)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	if err := s.db.GetContext(ctx, &user, `SELECT id, name, created_at FROM users WHERE id=$1`, id); err != nil {
		return User{}, fmt.Errorf("get user: %w", translate(err))
	}
	return user, nil
}

// People

func (s *PostgresStore) FindPerson(ctx context.Context, platform Platform, accountID string) (Person, error) {
	var person Person
	err := s.db.GetContext(ctx, &person, `
		SELECT `+personColumns+`
		FROM people
		WHERE platform=$1 AND platform_account_id=$2
	`, platform, accountID)
	if err != nil {
		return Person{}, fmt.Errorf("find person: %w", translate(err))
	}
	return person, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id string) (Person, error) {
	var person Person
	if err := s.db.GetContext(ctx, &person, `SELECT `+personColumns+` FROM people WHERE id=$1`, id); err != nil {
		return Person{}, fmt.Errorf("get person: %w", translate(err))
	}
	return person, nil
}

func (s *PostgresStore) ListPeople(ctx context.Context, platform Platform) ([]Person, error) {
	items := make([]Person, 0)
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+personColumns+`
		FROM people
		WHERE platform=$1
		ORDER BY created_at ASC
	`, platform)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", translate(err))
	}
	return items, nil
}

func (s *PostgresStore) CreatePerson(ctx context.Context, person Person) (Person, error) {
	var created Person
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO people (id, platform, platform_account_id, username, name, profile_picture_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+personColumns,
		person.ID, person.Platform, person.PlatformAccountID, person.Username, person.Name, person.ProfilePictureURL)
	if err != nil {
		return Person{}, fmt.Errorf("create person: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdatePersonProfile(ctx context.Context, person Person) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE people
		SET username=$2, name=$3, profile_picture_url=$4, updated_at=NOW()
		WHERE id=$1
	`, person.ID, person.Username, person.Name, person.ProfilePictureURL)
	if err != nil {
		return fmt.Errorf("update person profile: %w", translate(err))
	}
	return requireAffected(result, "update person profile")
}

// Credentials

func (s *PostgresStore) FindCredentialByUser(ctx context.Context, userID string, platform Platform) (Credential, error) {
	var credential Credential
	err := s.db.GetContext(ctx, &credential, `
		SELECT `+credentialColumns+`
		FROM user_credentials
		WHERE user_id=$1 AND platform=$2
	`, userID, platform)
	if err != nil {
		return Credential{}, fmt.Errorf("find credential by user: %w", translate(err))
	}
	return credential, nil
}

func (s *PostgresStore) FindCredentialByPerson(ctx context.Context, peopleID string) (Credential, error) {
	var credential Credential
	err := s.db.GetContext(ctx, &credential, `
		SELECT `+credentialColumns+`
		FROM user_credentials
		WHERE people_id=$1
		ORDER BY is_verified DESC, updated_at DESC
		LIMIT 1
	`, peopleID)
	if err != nil {
		return Credential{}, fmt.Errorf("find credential by person: %w", translate(err))
	}
	return credential, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, id string) (Credential, error) {
	var credential Credential
	if err := s.db.GetContext(ctx, &credential, `SELECT `+credentialColumns+` FROM user_credentials WHERE id=$1`, id); err != nil {
		return Credential{}, fmt.Errorf("get credential: %w", translate(err))
	}
	return credential, nil
}

func (s *PostgresStore) CreateCredential(ctx context.Context, credential Credential) (Credential, error) {
	var created Credential
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO user_credentials (id, people_id, user_id, platform, is_verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+credentialColumns,
		credential.ID, credential.PeopleID, credential.UserID, credential.Platform, credential.IsVerified)
	if err != nil {
		return Credential{}, fmt.Errorf("create credential: %w", translate(err))
	}
	return created, nil
}

// ClaimPendingCredential assigns a still-unverified credential to userID,
// optionally verifying it. ErrNotFound means the row is gone or was verified
// by someone else in the meantime.
func (s *PostgresStore) ClaimPendingCredential(ctx context.Context, id, userID string, verify bool) (Credential, error) {
	var claimed Credential
	err := s.db.GetContext(ctx, &claimed, `
		UPDATE user_credentials
		SET user_id=$2, is_verified=$3, updated_at=NOW()
		WHERE id=$1 AND is_verified=FALSE
		RETURNING `+credentialColumns,
		id, userID, verify)
	if err != nil {
		return Credential{}, fmt.Errorf("claim pending credential: %w", translate(err))
	}
	return claimed, nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_credentials WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", translate(err))
	}
	return requireAffected(result, "delete credential")
}

// Imported posts

func (s *PostgresStore) PostExists(ctx context.Context, platform Platform, textID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM imported_posts WHERE platform=$1 AND text_id=$2)
	`, platform, textID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check imported post: %w", translate(err))
	}
	return exists, nil
}

func (s *PostgresStore) GetImportedPost(ctx context.Context, id string) (ImportedPost, error) {
	var post ImportedPost
	if err := s.db.GetContext(ctx, &post, `SELECT `+postColumns+` FROM imported_posts WHERE id=$1`, id); err != nil {
		return ImportedPost{}, fmt.Errorf("get imported post: %w", translate(err))
	}
	return post, nil
}

// CreateImportedPost inserts the post together with its zeroed public metric.
// WalletAddress is the custodial fallback: when the author already has a
// verified owner, the owner's public key is stored instead. A duplicate
// (platform, text_id) returns ErrConflict.
func (s *PostgresStore) CreateImportedPost(ctx context.Context, post ImportedPost) (ImportedPost, error) {
	if post.PublishedAt.IsZero() {
		post.PublishedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ImportedPost{}, fmt.Errorf("begin create post tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created ImportedPost
	err = tx.GetContext(ctx, &created, `
		INSERT INTO imported_posts (id, platform, text_id, people_id, title, text, tags, link, wallet_address, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			COALESCE((SELECT user_id FROM user_credentials WHERE people_id=$4 AND is_verified LIMIT 1), $9),
			$10)
		RETURNING `+postColumns,
		post.ID, post.Platform, post.TextID, post.PeopleID, post.Title, post.Text, []string(post.Tags), post.Link, post.WalletAddress, post.PublishedAt)
	if err != nil {
		return ImportedPost{}, fmt.Errorf("create imported post: %w", translate(err))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public_metrics (reference_type, reference_id)
		VALUES ($1, $2)
		ON CONFLICT (reference_type, reference_id) DO NOTHING
	`, ReferencePost, created.ID); err != nil {
		return ImportedPost{}, fmt.Errorf("create post metric: %w", translate(err))
	}
	if err := tx.Commit(); err != nil {
		return ImportedPost{}, fmt.Errorf("commit create post: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) ReassignPostWallets(ctx context.Context, peopleID, address string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE imported_posts
		SET wallet_address=$2, updated_at=NOW()
		WHERE people_id=$1 AND wallet_address <> $2
	`, peopleID, address)
	if err != nil {
		return 0, fmt.Errorf("reassign post wallets: %w", translate(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reassign post wallets rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) ListPostsWithText(ctx context.Context, markers []string) ([]ImportedPost, error) {
	items := make([]ImportedPost, 0)
	if len(markers) == 0 {
		return items, nil
	}
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+postColumns+`
		FROM imported_posts
		WHERE btrim(text, E' \t\r\n') = ANY($1) OR btrim(title, E' \t\r\n') = ANY($1)
	`, markers)
	if err != nil {
		return nil, fmt.Errorf("list posts with text: %w", translate(err))
	}
	return items, nil
}

func (s *PostgresStore) DeleteImportedPost(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete post tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM public_metrics WHERE reference_type=$1 AND reference_id=$2`, ReferencePost, id); err != nil {
		return fmt.Errorf("delete post metric: %w", translate(err))
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM imported_posts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete imported post: %w", translate(err))
	}
	if err := requireAffected(result, "delete imported post"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete post: %w", err)
	}
	return nil
}

// Engagement

// ToggleEngagementMark creates the mark with state=true, or flips the state of
// the existing row in one statement. Submitting the other kind switches the
// row to that kind and re-activates it.
func (s *PostgresStore) ToggleEngagementMark(ctx context.Context, id string, key EngagementKey, kind Kind) (EngagementMark, error) {
	return retryOnce(ctx, func() (EngagementMark, error) {
		var mark EngagementMark
		err := s.db.GetContext(ctx, &mark, `
			INSERT INTO engagement_marks (id, user_id, reference_type, reference_id, kind, state)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (user_id, reference_type, reference_id) DO UPDATE
			SET state = CASE WHEN engagement_marks.kind = EXCLUDED.kind THEN NOT engagement_marks.state ELSE TRUE END,
				kind = EXCLUDED.kind,
				updated_at = NOW()
			RETURNING `+markColumns,
			id, key.UserID, key.Type, key.ReferenceID, kind)
		if err != nil {
			return EngagementMark{}, fmt.Errorf("toggle engagement mark: %w", translate(err))
		}
		return mark, nil
	})
}

func (s *PostgresStore) CountEngagement(ctx context.Context, refType ReferenceType, refID string) (EngagementCounts, error) {
	var counts EngagementCounts
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) FILTER (WHERE kind='like')::int AS likes,
			COUNT(*) FILTER (WHERE kind='dislike')::int AS dislikes
		FROM engagement_marks
		WHERE reference_type=$1 AND reference_id=$2 AND state
	`, refType, refID)
	if err != nil {
		return EngagementCounts{}, fmt.Errorf("count engagement: %w", translate(err))
	}
	return counts, nil
}

func (s *PostgresStore) ReferenceExists(ctx context.Context, refType ReferenceType, refID string) (bool, error) {
	var query string
	switch refType {
	case ReferencePost:
		query = `SELECT EXISTS(SELECT 1 FROM imported_posts WHERE id=$1)`
	case ReferenceComment:
		query = `SELECT EXISTS(SELECT 1 FROM comments WHERE id=$1)`
	case ReferenceUser:
		query = `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`
	default:
		return false, fmt.Errorf("reference exists: unknown type %q", refType)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, refID).Scan(&exists); err != nil {
		return false, fmt.Errorf("reference exists: %w", translate(err))
	}
	return exists, nil
}

// Comments

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	var created Comment
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO comments (id, post_id, user_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, post_id, user_id, text, created_at
	`, comment.ID, comment.PostID, comment.UserID, comment.Text)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) CountComments(ctx context.Context, postID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)::int FROM comments WHERE post_id=$1`, postID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count comments: %w", translate(err))
	}
	return count, nil
}

// Public metrics

// SavePublicMetric overwrites the stored counters with freshly computed ones.
func (s *PostgresStore) SavePublicMetric(ctx context.Context, metric PublicMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public_metrics (reference_type, reference_id, likes, dislikes, comments)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference_type, reference_id) DO UPDATE
		SET likes=EXCLUDED.likes, dislikes=EXCLUDED.dislikes, comments=EXCLUDED.comments, updated_at=NOW()
	`, metric.ReferenceType, metric.ReferenceID, metric.Likes, metric.Dislikes, metric.Comments)
	if err != nil {
		return fmt.Errorf("save public metric: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetPublicMetric(ctx context.Context, refType ReferenceType, refID string) (PublicMetric, error) {
	var metric PublicMetric
	err := s.db.GetContext(ctx, &metric, `
		SELECT `+metricColumns+`
		FROM public_metrics
		WHERE reference_type=$1 AND reference_id=$2
	`, refType, refID)
	if err != nil {
		return PublicMetric{}, fmt.Errorf("get public metric: %w", translate(err))
	}
	return metric, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

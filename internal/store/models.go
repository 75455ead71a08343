package store

import (
	"time"

	"github.com/lib/pq"
)

type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformReddit   Platform = "reddit"
	PlatformFacebook Platform = "facebook"
	PlatformMyriad   Platform = "myriad"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformReddit, PlatformFacebook, PlatformMyriad:
		return true
	default:
		return false
	}
}

// ReferenceType names the kind of entity an engagement mark or metric points at.
type ReferenceType string

const (
	ReferencePost    ReferenceType = "post"
	ReferenceComment ReferenceType = "comment"
	ReferenceUser    ReferenceType = "user"
)

func (t ReferenceType) Valid() bool {
	switch t {
	case ReferencePost, ReferenceComment, ReferenceUser:
		return true
	default:
		return false
	}
}

type Kind string

const (
	KindLike    Kind = "like"
	KindDislike Kind = "dislike"
)

func (k Kind) Valid() bool {
	return k == KindLike || k == KindDislike
}

// Person is a locally cached external social-media identity.
// (Platform, PlatformAccountID) is unique.
type Person struct {
	ID                string    `db:"id"`
	Platform          Platform  `db:"platform"`
	PlatformAccountID string    `db:"platform_account_id"`
	Username          string    `db:"username"`
	Name              string    `db:"name"`
	ProfilePictureURL string    `db:"profile_picture_url"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Credential links a Person to the public key of an internal user.
type Credential struct {
	ID         string    `db:"id"`
	PeopleID   string    `db:"people_id"`
	UserID     string    `db:"user_id"`
	Platform   Platform  `db:"platform"`
	IsVerified bool      `db:"is_verified"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ImportedPost is a post ingested from an external platform.
// (Platform, TextID) is unique.
type ImportedPost struct {
	ID            string         `db:"id"`
	Platform      Platform       `db:"platform"`
	TextID        string         `db:"text_id"`
	PeopleID      string         `db:"people_id"`
	Title         string         `db:"title"`
	Text          string         `db:"text"`
	Tags          pq.StringArray `db:"tags"`
	Link          string         `db:"link"`
	WalletAddress string         `db:"wallet_address"`
	PublishedAt   time.Time      `db:"published_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type EngagementKey struct {
	UserID      string
	Type        ReferenceType
	ReferenceID string
}

// EngagementMark is one user's like or dislike on one reference.
// At most one row exists per EngagementKey.
type EngagementMark struct {
	ID          string        `db:"id"`
	UserID      string        `db:"user_id"`
	Type        ReferenceType `db:"reference_type"`
	ReferenceID string        `db:"reference_id"`
	Kind        Kind          `db:"kind"`
	State       bool          `db:"state"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

type EngagementCounts struct {
	Likes    int `db:"likes"`
	Dislikes int `db:"dislikes"`
}

// PublicMetric holds denormalized counters for a post or comment.
type PublicMetric struct {
	ReferenceType ReferenceType `db:"reference_type" json:"referenceType"`
	ReferenceID   string        `db:"reference_id" json:"referenceId"`
	Likes         int           `db:"likes" json:"likes"`
	Dislikes      int           `db:"dislikes" json:"dislikes"`
	Comments      int           `db:"comments" json:"comments"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

type Comment struct {
	ID        string    `db:"id"`
	PostID    string    `db:"post_id"`
	UserID    string    `db:"user_id"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

// User is an internal account, identified by its wallet public key.
type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Package engagement records likes and dislikes with toggle semantics and
// keeps the public metrics of posts and comments in step with them.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/metrics"
	"myriad/api/internal/store"
	"myriad/api/internal/util"
)

var (
	ErrReferenceNotFound = errors.New("reference not found")
	ErrInvalidType       = errors.New("invalid reference type")
	ErrInvalidKind       = errors.New("invalid engagement kind")
	ErrInvalidInput      = errors.New("invalid input")
)

// Mark is a request to toggle one user's reaction on one reference. An empty
// Kind means like.
type Mark struct {
	UserID      string              `json:"userId"`
	Type        store.ReferenceType `json:"type"`
	ReferenceID string              `json:"referenceId"`
	Kind        store.Kind          `json:"kind"`
}

type CommentInput struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type dataStore interface {
	ReferenceExists(context.Context, store.ReferenceType, string) (bool, error)
	ToggleEngagementMark(context.Context, string, store.EngagementKey, store.Kind) (store.EngagementMark, error)
	CountEngagement(context.Context, store.ReferenceType, string) (store.EngagementCounts, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	CountComments(context.Context, string) (int, error)
	SavePublicMetric(context.Context, store.PublicMetric) error
	GetPublicMetric(context.Context, store.ReferenceType, string) (store.PublicMetric, error)
}

const lockStripes = 64

type Service struct {
	store   dataStore
	metrics *metrics.Metrics
	// recompute for one reference runs under one stripe so the last writer
	// always reads the latest committed marks
	stripes [lockStripes]sync.Mutex
}

func NewService(s dataStore, m *metrics.Metrics) *Service {
	return &Service{store: s, metrics: m}
}

// Toggle flips the caller's mark on a reference, creating it active on first
// use, then recomputes the reference's public metric from scratch.
func (s *Service) Toggle(ctx context.Context, in Mark) (store.EngagementMark, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ReferenceID) == "" {
		return store.EngagementMark{}, fmt.Errorf("%w: userId and referenceId are required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return store.EngagementMark{}, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if in.Kind == "" {
		in.Kind = store.KindLike
	}
	if !in.Kind.Valid() {
		return store.EngagementMark{}, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}

	if err := s.requireReference(ctx, in.Type, in.ReferenceID); err != nil {
		return store.EngagementMark{}, err
	}

	key := store.EngagementKey{UserID: in.UserID, Type: in.Type, ReferenceID: in.ReferenceID}
	mark, err := s.store.ToggleEngagementMark(ctx, util.NewID("mark"), key, in.Kind)
	if err != nil {
		return store.EngagementMark{}, fmt.Errorf("toggle mark: %w", err)
	}
	s.metrics.Toggle(string(in.Type), mark.State)

	// The mark is already committed; a failed recompute is corrected by the next one.
	if in.Type == store.ReferencePost || in.Type == store.ReferenceComment {
		if _, err := s.recompute(ctx, in.Type, in.ReferenceID); err != nil {
			log.WithError(err).WithFields(log.Fields{"type": in.Type, "reference": in.ReferenceID}).Error("recompute metric failed")
		}
	}
	return mark, nil
}

// AddComment stores a comment and recomputes the parent post's counters.
func (s *Service) AddComment(ctx context.Context, in CommentInput) (store.Comment, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" || strings.TrimSpace(in.UserID) == "" {
		return store.Comment{}, fmt.Errorf("%w: text and userId are required", ErrInvalidInput)
	}
	if err := s.requireReference(ctx, store.ReferencePost, in.PostID); err != nil {
		return store.Comment{}, err
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:     util.NewID("cmt"),
		PostID: in.PostID,
		UserID: in.UserID,
		Text:   text,
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, ErrReferenceNotFound
	}
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	if _, err := s.recompute(ctx, store.ReferencePost, in.PostID); err != nil {
		log.WithError(err).WithField("post", in.PostID).Error("recompute metric failed")
	}
	if err := s.store.SavePublicMetric(ctx, store.PublicMetric{ReferenceType: store.ReferenceComment, ReferenceID: comment.ID}); err != nil {
		log.WithError(err).WithField("comment", comment.ID).Warn("create comment metric failed")
	}
	return comment, nil
}

// Metrics returns the stored counters for a reference. References without a
// stored row, such as users, are counted on the fly.
func (s *Service) Metrics(ctx context.Context, refType store.ReferenceType, refID string) (store.PublicMetric, error) {
	if !refType.Valid() {
		return store.PublicMetric{}, fmt.Errorf("%w: %q", ErrInvalidType, refType)
	}
	metric, err := s.store.GetPublicMetric(ctx, refType, refID)
	if err == nil {
		return metric, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.PublicMetric{}, fmt.Errorf("get metric: %w", err)
	}
	if err := s.requireReference(ctx, refType, refID); err != nil {
		return store.PublicMetric{}, err
	}
	return s.count(ctx, refType, refID)
}

func (s *Service) requireReference(ctx context.Context, refType store.ReferenceType, refID string) error {
	ok, err := s.store.ReferenceExists(ctx, refType, refID)
	if err != nil {
		return fmt.Errorf("check reference: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrReferenceNotFound, refType, refID)
	}
	return nil
}

func (s *Service) stripe(refType store.ReferenceType, refID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(refType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(refID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// recompute rebuilds the metric from the marks and comments and overwrites
// the stored row. Counters are never patched in place.
func (s *Service) recompute(ctx context.Context, refType store.ReferenceType, refID string) (store.PublicMetric, error) {
	mu := s.stripe(refType, refID)
	mu.Lock()
	defer mu.Unlock()

	metric, err := s.count(ctx, refType, refID)
	if err != nil {
		return store.PublicMetric{}, err
	}
	if err := s.store.SavePublicMetric(ctx, metric); err != nil {
		return store.PublicMetric{}, fmt.Errorf("save metric: %w", err)
	}
	return metric, nil
}

func (s *Service) count(ctx context.Context, refType store.ReferenceType, refID string) (store.PublicMetric, error) {
	counts, err := s.store.CountEngagement(ctx, refType, refID)
	if err != nil {
		return store.PublicMetric{}, fmt.Errorf("count marks: %w", err)
	}
	metric := store.PublicMetric{
		ReferenceType: refType,
		ReferenceID:   refID,
		Likes:         counts.Likes,
		Dislikes:      counts.Dislikes,
	}
	if refType == store.ReferencePost {
		metric.Comments, err = s.store.CountComments(ctx, refID)
		if err != nil {
			return store.PublicMetric{}, fmt.Errorf("count comments: %w", err)
		}
	}
	return metric, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"myriad/api/internal/auth"
	"myriad/api/internal/config"
	"myriad/api/internal/credential"
	"myriad/api/internal/crawler"
	"myriad/api/internal/currency"
	"myriad/api/internal/engagement"
	"myriad/api/internal/rbac"
	"myriad/api/internal/search"
	"myriad/api/internal/store"
	"myriad/api/internal/util"
)

var publicKeyPattern = regexp.MustCompile(`^0x[0-9a-f]{40,128}$`)

type Session struct {
	Token     string
	PublicKey string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, string) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	GetImportedPost(context.Context, string) (store.ImportedPost, error)
}

type credentialLinker interface {
	LinkAccount(context.Context, credential.Claim) (store.Credential, error)
	RequestVerification(context.Context, credential.Claim) (store.Credential, error)
	Disconnect(context.Context, string, string) error
}

type engagementService interface {
	Toggle(context.Context, engagement.Mark) (store.EngagementMark, error)
	AddComment(context.Context, engagement.CommentInput) (store.Comment, error)
	Metrics(context.Context, store.ReferenceType, string) (store.PublicMetric, error)
}

type reconciler interface {
	Reconcile(context.Context, store.Platform) (crawler.Summary, error)
	PurgeRemovedContent(context.Context) (int, error)
	RefreshProfiles(context.Context, store.Platform) (int, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
}

type rateReader interface {
	Current(context.Context) (currency.Snapshot, error)
}

type pinger interface {
	Ping(context.Context) error
}

// Deps are the engines the HTTP surface delegates to. Search, Rates and Cache
// may be nil when their backends are not configured.
type Deps struct {
	Store       dataStore
	Credentials credentialLinker
	Engagement  engagementService
	Crawler     reconciler
	Search      searcher
	Rates       rateReader
	Cache       pinger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	credentials credentialLinker
	engagement  engagementService
	crawler     reconciler
	search      searcher
	rates       rateReader
	cache       pinger
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		credentials: deps.Credentials,
		engagement:  deps.Engagement,
		crawler:     deps.Crawler,
		search:      deps.Search,
		rates:       deps.Rates,
		cache:       deps.Cache,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache checks Redis. It reports false when no cache is configured.
func (s *Service) PingCache(ctx context.Context) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

// Login registers the public key on first use and issues an access token.
func (s *Service) Login(ctx context.Context, publicKey string) (Session, error) {
	key := strings.ToLower(strings.TrimSpace(publicKey))
	if !publicKeyPattern.MatchString(key) {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "publicKey must be a 0x-prefixed hex key", nil)
	}
	user, err := s.store.EnsureUser(ctx, key)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := s.roleFor(user.ID)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, PublicKey: user.ID, Role: role, JTI: jti, ExpiresAt: expiresAt}, nil
}

// SessionFromToken validates a token. The role is re-derived from config on
// every request so removing an admin key takes effect immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		PublicKey: user.ID,
		Role:      s.roleFor(user.ID),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) roleFor(publicKey string) string {
	if s.cfg.IsAdmin(publicKey) {
		return string(rbac.RoleAdmin)
	}
	return string(rbac.RoleUser)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// LinkAccount claims an external account for the session's public key.
func (s *Service) LinkAccount(ctx context.Context, session Session, claim credential.Claim, verify bool) (map[string]any, error) {
	claim.PublicKey = session.PublicKey
	var (
		cred store.Credential
		err  error
	)
	if verify {
		cred, err = s.credentials.LinkAccount(ctx, claim)
	} else {
		cred, err = s.credentials.RequestVerification(ctx, claim)
	}
	if err != nil {
		return nil, err
	}
	return credentialView(cred), nil
}

func (s *Service) Disconnect(ctx context.Context, session Session, credentialID string) error {
	return s.credentials.Disconnect(ctx, session.PublicKey, credentialID)
}

func (s *Service) Toggle(ctx context.Context, session Session, mark engagement.Mark) (map[string]any, error) {
	mark.UserID = session.PublicKey
	result, err := s.engagement.Toggle(ctx, mark)
	if err != nil {
		return nil, err
	}
	view := markView(result)
	if metric, err := s.engagement.Metrics(ctx, result.Type, result.ReferenceID); err == nil {
		view["metric"] = metric
	}
	return view, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, postID, text string) (map[string]any, error) {
	comment, err := s.engagement.AddComment(ctx, engagement.CommentInput{PostID: postID, UserID: session.PublicKey, Text: text})
	if err != nil {
		return nil, err
	}
	return commentView(comment), nil
}

func (s *Service) Metrics(ctx context.Context, refType store.ReferenceType, refID string) (store.PublicMetric, error) {
	return s.engagement.Metrics(ctx, refType, refID)
}

func (s *Service) GetPost(ctx context.Context, id string) (map[string]any, error) {
	post, err := s.store.GetImportedPost(ctx, id)
	if err != nil {
		return nil, err
	}
	return postView(post), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) ExchangeRates(ctx context.Context) (currency.Snapshot, error) {
	if s.rates == nil {
		return currency.Snapshot{}, currency.ErrNoRates
	}
	return s.rates.Current(ctx)
}

func (s *Service) Reconcile(ctx context.Context, platform store.Platform) (crawler.Summary, error) {
	return s.crawler.Reconcile(ctx, platform)
}

func (s *Service) Purge(ctx context.Context) (int, error) {
	return s.crawler.PurgeRemovedContent(ctx)
}

func (s *Service) RefreshProfiles(ctx context.Context, platform store.Platform) (int, error) {
	return s.crawler.RefreshProfiles(ctx, platform)
}

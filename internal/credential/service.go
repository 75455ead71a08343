// Package credential links external social accounts to the public keys of
// internal users.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/metrics"
	"myriad/api/internal/store"
	"myriad/api/internal/util"
)

var (
	ErrAlreadyVerified       = errors.New("credential already verified")
	ErrAccountAlreadyClaimed = errors.New("this account does not belong to you")
	ErrNotOwner              = errors.New("credential belongs to another user")
	ErrInvalidClaim          = errors.New("invalid claim")
)

// Claim asserts that PublicKey owns the account PlatformAccountID on Platform.
// Proof of ownership is checked by the caller before LinkAccount runs.
type Claim struct {
	PublicKey         string         `json:"publicKey"`
	Platform          store.Platform `json:"platform"`
	PlatformAccountID string         `json:"platformAccountId"`
	Username          string         `json:"username"`
	DisplayName       string         `json:"displayName"`
	ProfilePictureURL string         `json:"profilePictureUrl"`
}

func (c Claim) validate() error {
	if strings.TrimSpace(c.PublicKey) == "" {
		return fmt.Errorf("%w: publicKey is required", ErrInvalidClaim)
	}
	if !c.Platform.Valid() || c.Platform == store.PlatformMyriad {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidClaim, c.Platform)
	}
	if strings.TrimSpace(c.PlatformAccountID) == "" {
		return fmt.Errorf("%w: platformAccountId is required", ErrInvalidClaim)
	}
	return nil
}

func (c Claim) person() store.Person {
	return store.Person{
		ID:                util.NewID("ppl"),
		Platform:          c.Platform,
		PlatformAccountID: c.PlatformAccountID,
		Username:          c.Username,
		Name:              c.DisplayName,
		ProfilePictureURL: c.ProfilePictureURL,
	}
}

type dataStore interface {
	EnsureUser(context.Context, string) (store.User, error)
	FindPerson(context.Context, store.Platform, string) (store.Person, error)
	CreatePerson(context.Context, store.Person) (store.Person, error)
	FindCredentialByUser(context.Context, string, store.Platform) (store.Credential, error)
	FindCredentialByPerson(context.Context, string) (store.Credential, error)
	GetCredential(context.Context, string) (store.Credential, error)
	CreateCredential(context.Context, store.Credential) (store.Credential, error)
	ClaimPendingCredential(context.Context, string, string, bool) (store.Credential, error)
	DeleteCredential(context.Context, string) error
	ReassignPostWallets(context.Context, string, string) (int64, error)
}

type Service struct {
	store   dataStore
	metrics *metrics.Metrics
}

func NewService(s dataStore, m *metrics.Metrics) *Service {
	return &Service{store: s, metrics: m}
}

// LinkAccount resolves a claim into a verified credential. It creates the
// Person when the account has never been seen, attaches a credential to an
// unclaimed Person, or confirms the caller's own pending credential.
//
// Moving the Person's posts to the owner's key is retried on every later
// claim from the verified owner, so a failed move heals on the next attempt.
func (s *Service) LinkAccount(ctx context.Context, claim Claim) (store.Credential, error) {
	credential, err := s.link(ctx, claim, true)
	s.metrics.CredentialLink(string(claim.Platform), outcome(err))
	if errors.Is(err, ErrAlreadyVerified) {
		if own, findErr := s.store.FindCredentialByUser(ctx, claim.PublicKey, claim.Platform); findErr == nil && own.IsVerified {
			s.reassignWallets(ctx, own)
		}
	}
	if err != nil {
		return store.Credential{}, err
	}

	moved := s.reassignWallets(ctx, credential)
	log.WithFields(log.Fields{
		"platform":   credential.Platform,
		"person":     credential.PeopleID,
		"public_key": credential.UserID,
		"posts":      moved,
	}).Info("credential verified")
	return credential, nil
}

// reassignWallets points every post of the credential's Person at the owner's
// key. Failures are logged; the credential stays verified.
func (s *Service) reassignWallets(ctx context.Context, credential store.Credential) int64 {
	moved, err := s.store.ReassignPostWallets(ctx, credential.PeopleID, credential.UserID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"platform": credential.Platform,
			"person":   credential.PeopleID,
		}).Error("reassign post wallets failed")
		return 0
	}
	if moved > 0 {
		log.WithFields(log.Fields{"person": credential.PeopleID, "posts": moved}).Debug("post wallets reassigned")
	}
	return moved
}

// RequestVerification records a pending credential for the claim. The
// credential is confirmed later by LinkAccount once the platform proof passes.
func (s *Service) RequestVerification(ctx context.Context, claim Claim) (store.Credential, error) {
	return s.link(ctx, claim, false)
}

// Disconnect removes a credential owned by publicKey. The Person becomes
// claimable again; imported posts keep their current wallet address.
func (s *Service) Disconnect(ctx context.Context, publicKey, credentialID string) error {
	credential, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if credential.UserID != publicKey {
		return ErrNotOwner
	}
	if err := s.store.DeleteCredential(ctx, credentialID); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"platform": credential.Platform,
		"person":   credential.PeopleID,
	}).Info("credential disconnected")
	return nil
}

func (s *Service) link(ctx context.Context, claim Claim, verify bool) (store.Credential, error) {
	if err := claim.validate(); err != nil {
		return store.Credential{}, err
	}
	if _, err := s.store.EnsureUser(ctx, claim.PublicKey); err != nil {
		return store.Credential{}, fmt.Errorf("ensure user: %w", err)
	}

	own, err := s.store.FindCredentialByUser(ctx, claim.PublicKey, claim.Platform)
	hasOwn := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Credential{}, fmt.Errorf("find user credential: %w", err)
	}
	if hasOwn && own.IsVerified {
		return store.Credential{}, ErrAlreadyVerified
	}

	person, err := s.resolvePerson(ctx, claim)
	if err != nil {
		return store.Credential{}, err
	}

	existing, err := s.store.FindCredentialByPerson(ctx, person.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// A pending claim on a different account is replaced by this one.
		if hasOwn {
			if err := s.dropPending(ctx, own); err != nil {
				return store.Credential{}, err
			}
		}
		created, err := s.store.CreateCredential(ctx, store.Credential{
			ID:         util.NewID("cred"),
			PeopleID:   person.ID,
			UserID:     claim.PublicKey,
			Platform:   claim.Platform,
			IsVerified: verify,
		})
		if errors.Is(err, store.ErrConflict) {
			return s.afterConflict(ctx, claim, person, verify)
		}
		if err != nil {
			return store.Credential{}, fmt.Errorf("create credential: %w", err)
		}
		return created, nil
	case err != nil:
		return store.Credential{}, fmt.Errorf("find person credential: %w", err)
	}

	if existing.UserID != claim.PublicKey {
		if existing.IsVerified {
			return store.Credential{}, ErrAccountAlreadyClaimed
		}
		if hasOwn {
			if err := s.dropPending(ctx, own); err != nil {
				return store.Credential{}, err
			}
		}
	} else if !verify {
		return existing, nil
	}

	claimed, err := s.store.ClaimPendingCredential(ctx, existing.ID, claim.PublicKey, verify)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return s.afterConflict(ctx, claim, person, verify)
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("claim credential: %w", err)
	}
	return claimed, nil
}

// resolvePerson finds the Person named by the claim or creates it. Losing a
// concurrent create is not an error: the winner's row is used.
func (s *Service) resolvePerson(ctx context.Context, claim Claim) (store.Person, error) {
	person, err := s.store.FindPerson(ctx, claim.Platform, claim.PlatformAccountID)
	if err == nil {
		return person, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Person{}, fmt.Errorf("find person: %w", err)
	}
	person, err = s.store.CreatePerson(ctx, claim.person())
	if errors.Is(err, store.ErrConflict) {
		person, err = s.store.FindPerson(ctx, claim.Platform, claim.PlatformAccountID)
	}
	if err != nil {
		return store.Person{}, fmt.Errorf("create person: %w", err)
	}
	return person, nil
}

// afterConflict re-reads state after a uniqueness violation and reports the
// outcome the winning writer left behind.
func (s *Service) afterConflict(ctx context.Context, claim Claim, person store.Person, verify bool) (store.Credential, error) {
	winner, err := s.store.FindCredentialByPerson(ctx, person.ID)
	if err == nil {
		if winner.UserID == claim.PublicKey {
			if winner.IsVerified == verify {
				return winner, nil
			}
			if winner.IsVerified {
				return store.Credential{}, ErrAlreadyVerified
			}
		}
		if winner.IsVerified {
			return store.Credential{}, ErrAccountAlreadyClaimed
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Credential{}, fmt.Errorf("find person credential: %w", err)
	}

	own, err := s.store.FindCredentialByUser(ctx, claim.PublicKey, claim.Platform)
	if err == nil && own.IsVerified {
		return store.Credential{}, ErrAlreadyVerified
	}
	return store.Credential{}, fmt.Errorf("link %s account %s: %w", claim.Platform, claim.PlatformAccountID, store.ErrConflict)
}

func (s *Service) dropPending(ctx context.Context, credential store.Credential) error {
	err := s.store.DeleteCredential(ctx, credential.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("drop pending credential: %w", err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "linked"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrAccountAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrInvalidClaim):
		return "invalid"
	default:
		return "error"
	}
}

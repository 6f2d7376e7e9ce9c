package apikey

import (
	"context"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/token"
)

// Validation errors reported by Issue. Each failure aborts the operation
// before anything is persisted.
var (
	ErrNameRequired = errors.New("key name is required")
	ErrNameInvalid  = errors.New("key name may only contain letters, numbers, underscores, and hyphens (max 60)")
	ErrExpiryInPast = errors.New("expires_at must be in the future")
)

const maxNameLength = 60

var nameFormat = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IssueParams is the caller input for issuing a new key.
type IssueParams struct {
	Owner     Owner
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// Service implements the credential lifecycle: issuance with quota and
// validation enforcement, revocation, and edits to the mutable fields.
type Service struct {
	repo     Repository
	settings *Settings
	now      func() time.Time
}

// NewService creates a Service over the given repository and settings.
func NewService(repo Repository, settings *Settings) *Service {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Service{repo: repo, settings: settings, now: time.Now}
}

// Issue validates params, generates and digests a fresh token, and persists
// the record. The returned IssuedKey carries the plaintext exactly once; it
// is never written to storage. Quota counting and the insert share one
// storage transaction, so concurrent issuance cannot oversubscribe a limit.
func (s *Service) Issue(ctx context.Context, params IssueParams) (*IssuedKey, error) {
	now := s.now()

	if err := s.validate(params, now); err != nil {
		return nil, err
	}

	prefix := s.settings.EffectivePrefix(params.Owner)
	plaintext, err := token.Generate(s.settings.TokenLength, prefix, s.settings.TokenAlphabet)
	if err != nil {
		return nil, errors.Wrap(err, "generate token")
	}

	digest, algorithm, err := token.Digest(plaintext, s.settings.HashStrategy)
	if err != nil {
		return nil, errors.Wrap(err, "digest token")
	}

	expiresAt := params.ExpiresAt
	if expiresAt == nil && s.settings.ExpireAfter > 0 {
		t := now.Add(s.settings.ExpireAfter)
		expiresAt = &t
	}

	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	key := &Key{
		ID:              uuid.NewString(),
		Prefix:          prefix,
		TokenDigest:     digest,
		DigestAlgorithm: algorithm,
		Last4:           token.Last4(plaintext, prefix),
		Name:            params.Name,
		Owner:           params.Owner,
		Scopes:          s.settings.EffectiveScopes(params.Owner, params.Scopes),
		Metadata:        metadata,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	maxActive := 0
	if !params.Owner.IsZero() {
		maxActive = s.settings.MaxActiveKeys(params.Owner)
	}

	if err := s.repo.Create(ctx, key, maxActive); err != nil {
		return nil, err
	}

	return &IssuedKey{Key: key, Token: plaintext}, nil
}

// Revoke permanently deactivates the key. Revoking an already-revoked key
// returns the existing state without error.
func (s *Service) Revoke(ctx context.Context, id string) (*Key, error) {
	return s.repo.Revoke(ctx, id, s.now())
}

// List returns the owner's keys, newest first.
func (s *Service) List(ctx context.Context, owner Owner) ([]*Key, error) {
	return s.repo.ListByOwner(ctx, owner)
}

// Edit updates the caller-editable fields, name and scopes. Omitted fields
// keep their stored values: an empty name preserves the current label and
// nil scopes preserve the current set.
func (s *Service) Edit(ctx context.Context, id, name string, scopes []string) (*Key, error) {
	if name != "" && !validName(name) {
		return nil, ErrNameInvalid
	}
	if name == "" || scopes == nil {
		existing, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = existing.Name
		}
		if scopes == nil {
			scopes = existing.Scopes
		}
	}
	return s.repo.UpdateEditable(ctx, id, name, scopes)
}

func (s *Service) validate(params IssueParams, now time.Time) error {
	if params.Name == "" {
		if s.settings.NameRequired(params.Owner) {
			return ErrNameRequired
		}
	} else if !validName(params.Name) {
		return ErrNameInvalid
	}

	if params.ExpiresAt != nil && !params.ExpiresAt.After(now) {
		return ErrExpiryInPast
	}

	return nil
}

func validName(name string) bool {
	return len(name) <= maxNameLength && nameFormat.MatchString(name)
}

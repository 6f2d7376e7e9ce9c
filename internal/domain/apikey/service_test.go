package apikey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/token"
)

// memRepo is an in-memory Repository for service tests. Create enforces the
// quota under the same lock as the insert, mirroring the transactional
// guarantee of the real store.
type memRepo struct {
	mu   sync.Mutex
	keys map[string]*Key
	now  time.Time
}

func newMemRepo(now time.Time) *memRepo {
	return &memRepo{keys: make(map[string]*Key), now: now}
}

func (r *memRepo) Create(_ context.Context, key *Key, maxActive int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.keys {
		if k.TokenDigest == key.TokenDigest {
			return ErrDuplicateDigest
		}
	}
	if maxActive > 0 && !key.Owner.IsZero() {
		active := 0
		for _, k := range r.keys {
			if k.Owner == key.Owner && k.ActiveAt(r.now) {
				active++
			}
		}
		if active >= maxActive {
			return ErrQuotaExceeded
		}
	}
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *memRepo) FindByDigest(_ context.Context, digest, algorithm string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.TokenDigest == digest && k.DigestAlgorithm == algorithm {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) FindByPrefix(_ context.Context, prefix, algorithm string) ([]*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Key
	for _, k := range r.keys {
		if k.Prefix == prefix && k.DigestAlgorithm == algorithm {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) ListByOwner(_ context.Context, owner Owner) ([]*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Key
	for _, k := range r.keys {
		if k.Owner == owner {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) CountActiveByOwner(_ context.Context, owner Owner, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k.Owner == owner && k.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) DistinctPrefixes(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, k := range r.keys {
		if _, ok := seen[k.Prefix]; !ok {
			seen[k.Prefix] = struct{}{}
			out = append(out, k.Prefix)
		}
	}
	return out, nil
}

func (r *memRepo) Revoke(_ context.Context, id string, at time.Time) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	if k.RevokedAt == nil {
		k.RevokedAt = &at
		k.UpdatedAt = at
	}
	cp := *k
	return &cp, nil
}

func (r *memRepo) UpdateEditable(_ context.Context, id, name string, scopes []string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	k.Name = name
	k.Scopes = scopes
	cp := *k
	return &cp, nil
}

func (r *memRepo) RecordUsage(_ context.Context, id string, usedAt time.Time, increment bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.LastUsedAt = &usedAt
	if increment {
		k.RequestsCount++
	}
	return nil
}

func testService(t *testing.T, settings *Settings) (*Service, *memRepo, time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo(now)
	if settings == nil {
		settings = DefaultSettings()
	}
	// sha256 keeps the tests fast; bcrypt round trips are covered in the
	// token package.
	settings.HashStrategy = token.StrategySHA256
	svc := NewService(repo, settings)
	svc.now = func() time.Time { return now }
	return svc, repo, now
}

func TestService_Issue_RoundTrip(t *testing.T) {
	svc, repo, _ := testService(t, nil)

	issued, err := svc.Issue(context.Background(), IssueParams{Name: "ci-deploy"})
	require.NoError(t, err)

	assert.NotEmpty(t, issued.Token)
	assert.True(t, len(issued.Token) > 4)
	assert.Equal(t, "ak_", issued.Key.Prefix)
	assert.Equal(t, issued.Token[len(issued.Token)-4:], issued.Key.Last4)
	assert.Equal(t, "sha256", issued.Key.DigestAlgorithm)

	// The persisted record verifies the plaintext and never contains it.
	stored, err := repo.FindByID(context.Background(), issued.Key.ID)
	require.NoError(t, err)
	assert.True(t, token.Match(issued.Token, stored.TokenDigest, stored.DigestAlgorithm, token.SecureCompare))
	assert.NotContains(t, stored.TokenDigest, issued.Token)
}

func TestService_Issue_Validation(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	longName := strings.Repeat("a", maxNameLength+1)

	tests := []struct {
		name     string
		settings func(*Settings)
		params   IssueParams
		wantErr  error
	}{
		{
			name:     "name required globally",
			settings: func(s *Settings) { s.RequireKeyName = true },
			params:   IssueParams{},
			wantErr:  ErrNameRequired,
		},
		{
			name:    "name with spaces rejected",
			params:  IssueParams{Name: "my key"},
			wantErr: ErrNameInvalid,
		},
		{
			name:    "name too long rejected",
			params:  IssueParams{Name: longName},
			wantErr: ErrNameInvalid,
		},
		{
			name:    "expiry in the past rejected",
			params:  IssueParams{ExpiresAt: &past},
			wantErr: ErrExpiryInPast,
		},
		{
			name:    "expiry exactly now rejected",
			params:  IssueParams{ExpiresAt: &now},
			wantErr: ErrExpiryInPast,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			if tt.settings != nil {
				tt.settings(settings)
			}
			svc, _, _ := testService(t, settings)

			_, err := svc.Issue(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Issue_Quota(t *testing.T) {
	settings := DefaultSettings()
	settings.DefaultMaxKeysPerOwner = 1
	svc, _, _ := testService(t, settings)

	owner := Owner{Type: "user", ID: "42"}

	first, err := svc.Issue(context.Background(), IssueParams{Owner: owner, Name: "one"})
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), IssueParams{Owner: owner, Name: "two"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Revoked keys do not count toward the quota.
	_, err = svc.Revoke(context.Background(), first.Key.ID)
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), IssueParams{Owner: owner, Name: "three"})
	assert.NoError(t, err)
}

func TestService_Issue_OwnerPolicyOverrides(t *testing.T) {
	settings := DefaultSettings()
	settings.DefaultScopes = []string{"read"}
	settings.PolicyFor = func(owner Owner) (OwnerPolicy, bool) {
		if owner.Type == "org" {
			return OwnerPolicy{
				TokenPrefix:   "org_",
				DefaultScopes: []string{"read", "write"},
				RequireName:   true,
			}, true
		}
		return OwnerPolicy{}, false
	}
	svc, _, _ := testService(t, settings)

	org := Owner{Type: "org", ID: "7"}

	_, err := svc.Issue(context.Background(), IssueParams{Owner: org})
	assert.ErrorIs(t, err, ErrNameRequired)

	issued, err := svc.Issue(context.Background(), IssueParams{Owner: org, Name: "billing"})
	require.NoError(t, err)
	assert.Equal(t, "org_", issued.Key.Prefix)
	assert.Equal(t, []string{"read", "write"}, issued.Key.Scopes)

	// Owners without a policy fall back to settings defaults.
	plain, err := svc.Issue(context.Background(), IssueParams{Owner: Owner{Type: "user", ID: "1"}})
	require.NoError(t, err)
	assert.Equal(t, "ak_", plain.Key.Prefix)
	assert.Equal(t, []string{"read"}, plain.Key.Scopes)

	// Explicit scopes always win.
	explicit, err := svc.Issue(context.Background(), IssueParams{Owner: org, Name: "ro", Scopes: []string{"read"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, explicit.Key.Scopes)
}

func TestService_Issue_DefaultExpiry(t *testing.T) {
	settings := DefaultSettings()
	settings.ExpireAfter = 90 * 24 * time.Hour
	svc, _, now := testService(t, settings)

	issued, err := svc.Issue(context.Background(), IssueParams{Name: "temp"})
	require.NoError(t, err)
	require.NotNil(t, issued.Key.ExpiresAt)
	assert.Equal(t, now.Add(settings.ExpireAfter), *issued.Key.ExpiresAt)

	// An explicit expiry is not overridden.
	future := now.Add(time.Hour)
	issued, err = svc.Issue(context.Background(), IssueParams{Name: "short", ExpiresAt: &future})
	require.NoError(t, err)
	assert.Equal(t, future, *issued.Key.ExpiresAt)
}

func TestService_Revoke_Idempotent(t *testing.T) {
	svc, _, now := testService(t, nil)

	issued, err := svc.Issue(context.Background(), IssueParams{Name: "doomed"})
	require.NoError(t, err)

	revoked, err := svc.Revoke(context.Background(), issued.Key.ID)
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, now, *revoked.RevokedAt)

	again, err := svc.Revoke(context.Background(), issued.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, revoked.RevokedAt, again.RevokedAt)
}

func TestService_Edit(t *testing.T) {
	svc, _, _ := testService(t, nil)

	issued, err := svc.Issue(context.Background(), IssueParams{Name: "old", Scopes: []string{"read"}})
	require.NoError(t, err)

	updated, err := svc.Edit(context.Background(), issued.Key.ID, "new-name", []string{"read", "write"})
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Name)
	assert.Equal(t, []string{"read", "write"}, updated.Scopes)

	// Nil scopes keep the stored set.
	updated, err = svc.Edit(context.Background(), issued.Key.ID, "renamed", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, updated.Scopes)

	// An empty name keeps the stored label.
	updated, err = svc.Edit(context.Background(), issued.Key.ID, "", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, []string{"read"}, updated.Scopes)

	_, err = svc.Edit(context.Background(), issued.Key.ID, "bad name!", nil)
	assert.ErrorIs(t, err, ErrNameInvalid)
}

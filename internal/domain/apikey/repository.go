package apikey

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors surfaced by Repository implementations.
var (
	// ErrNotFound indicates no key matched the query.
	ErrNotFound = errors.New("api key not found")
	// ErrDuplicateDigest indicates a token digest collision on create.
	ErrDuplicateDigest = errors.New("token digest already exists")
	// ErrQuotaExceeded indicates the owner is at or above their active-key
	// limit. Create enforces it inside the same transaction as the insert.
	ErrQuotaExceeded = errors.New("active api key quota exceeded")
)

// Repository is the persistence contract for credential records. All methods
// are safe for concurrent use; isolation between a concurrent quota count and
// insert is the implementation's responsibility.
type Repository interface {
	// Create persists a new key. When maxActive > 0 and the key has an
	// owner, the owner's active-key count and the insert happen in one
	// transaction; ErrQuotaExceeded is returned at or above the limit.
	Create(ctx context.Context, key *Key, maxActive int) error

	// FindByID returns the key with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Key, error)

	// FindByDigest returns the key whose stored digest and algorithm match
	// exactly, or ErrNotFound. Used for the deterministic sha256 path.
	FindByDigest(ctx context.Context, digest, algorithm string) (*Key, error)

	// FindByPrefix returns all keys issued under prefix with the given
	// algorithm. Used to narrow candidates for salted digests.
	FindByPrefix(ctx context.Context, prefix, algorithm string) ([]*Key, error)

	// ListByOwner returns the owner's keys, newest first.
	ListByOwner(ctx context.Context, owner Owner) ([]*Key, error)

	// CountActiveByOwner counts the owner's keys that are neither revoked
	// nor expired at now.
	CountActiveByOwner(ctx context.Context, owner Owner, now time.Time) (int, error)

	// DistinctPrefixes returns every prefix present in storage.
	DistinctPrefixes(ctx context.Context) ([]string, error)

	// Revoke sets revoked_at to at if unset and returns the resulting key.
	// Re-revoking is a no-op returning the already-revoked state.
	Revoke(ctx context.Context, id string, at time.Time) (*Key, error)

	// UpdateEditable persists the only caller-editable fields, name and
	// scopes, and returns the updated key.
	UpdateEditable(ctx context.Context, id, name string, scopes []string) (*Key, error)

	// RecordUsage stamps last_used_at and, when increment is set, bumps
	// requests_count. Repeated delivery of the same stamp is harmless.
	RecordUsage(ctx context.Context, id string, usedAt time.Time, increment bool) error
}

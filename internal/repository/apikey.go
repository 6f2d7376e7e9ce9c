package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyward/keyward/internal/domain/apikey"
)

const uniqueViolation = "23505"

const keyColumns = `id, prefix, token_digest, digest_algorithm, last4, name,
	owner_type, owner_id, scopes, metadata, expires_at, last_used_at,
	requests_count, revoked_at, created_at, updated_at`

const insertKeySQL = `INSERT INTO api_keys (` + keyColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const countActiveSQL = `SELECT COUNT(*) FROM api_keys
	WHERE owner_type = $1 AND owner_id = $2
	  AND revoked_at IS NULL
	  AND (expires_at IS NULL OR expires_at > $3)`

var _ apikey.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository implements apikey.Repository backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// Create persists a new key. When maxActive > 0 and the key has an owner,
// the quota count and the insert run in one transaction serialized per owner
// by an advisory lock, so two concurrent issuances against a tight quota
// cannot both pass the count.
func (r *APIKeyRepository) Create(ctx context.Context, key *apikey.Key, maxActive int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin issuance: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxActive > 0 && !key.Owner.IsZero() {
		lockKey := key.Owner.Type + ":" + key.Owner.ID
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("acquire owner lock: %w", err)
		}

		var active int
		err := tx.QueryRow(ctx, countActiveSQL, key.Owner.Type, key.Owner.ID, key.CreatedAt).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active keys: %w", err)
		}
		if active >= maxActive {
			return apikey.ErrQuotaExceeded
		}
	}

	metadata, err := json.Marshal(key.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.Exec(ctx, insertKeySQL,
		key.ID, key.Prefix, key.TokenDigest, key.DigestAlgorithm, key.Last4,
		key.Name, key.Owner.Type, key.Owner.ID, key.Scopes, metadata,
		key.ExpiresAt, key.LastUsedAt, key.RequestsCount, key.RevokedAt,
		key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apikey.ErrDuplicateDigest
		}
		return fmt.Errorf("insert api key: %w", err)
	}

	return tx.Commit(ctx)
}

// FindByID returns the key with the given id.
func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*apikey.Key, error) {
	return r.queryOne(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
}

// FindByDigest returns the key whose digest and algorithm match exactly.
func (r *APIKeyRepository) FindByDigest(ctx context.Context, digest, algorithm string) (*apikey.Key, error) {
	return r.queryOne(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE token_digest = $1 AND digest_algorithm = $2`,
		digest, algorithm,
	)
}

// FindByPrefix returns every key issued under prefix with the given algorithm.
func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix, algorithm string) ([]*apikey.Key, error) {
	return r.queryMany(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE prefix = $1 AND digest_algorithm = $2`,
		prefix, algorithm,
	)
}

// ListByOwner returns the owner's keys, newest first.
func (r *APIKeyRepository) ListByOwner(ctx context.Context, owner apikey.Owner) ([]*apikey.Key, error) {
	return r.queryMany(ctx,
		`SELECT `+keyColumns+` FROM api_keys
			WHERE owner_type = $1 AND owner_id = $2 ORDER BY created_at DESC`,
		owner.Type, owner.ID,
	)
}

// CountActiveByOwner counts the owner's keys that are neither revoked nor
// expired at now.
func (r *APIKeyRepository) CountActiveByOwner(ctx context.Context, owner apikey.Owner, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countActiveSQL, owner.Type, owner.ID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active keys: %w", err)
	}
	return n, nil
}

// DistinctPrefixes returns every prefix present in storage.
func (r *APIKeyRepository) DistinctPrefixes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT prefix FROM api_keys`)
	if err != nil {
		return nil, fmt.Errorf("query distinct prefixes: %w", err)
	}
	defer rows.Close()

	var prefixes []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan prefix: %w", err)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}

// Revoke sets revoked_at if unset and returns the resulting row. COALESCE
// makes re-revoking a no-op that preserves the original timestamp.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, at time.Time) (*apikey.Key, error) {
	return r.queryOne(ctx,
		`UPDATE api_keys
			SET revoked_at = COALESCE(revoked_at, $2), updated_at = $2
			WHERE id = $1
			RETURNING `+keyColumns,
		id, at,
	)
}

// UpdateEditable persists the caller-editable fields, name and scopes.
func (r *APIKeyRepository) UpdateEditable(ctx context.Context, id, name string, scopes []string) (*apikey.Key, error) {
	if scopes == nil {
		scopes = []string{}
	}
	return r.queryOne(ctx,
		`UPDATE api_keys
			SET name = $2, scopes = $3, updated_at = now()
			WHERE id = $1
			RETURNING `+keyColumns,
		id, name, scopes,
	)
}

// RecordUsage stamps last_used_at and optionally increments requests_count.
// The update is a single atomic statement, so duplicate delivery of the same
// stamp leaves last_used_at unchanged and at worst over-counts by design.
func (r *APIKeyRepository) RecordUsage(ctx context.Context, id string, usedAt time.Time, increment bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys
			SET last_used_at = $2,
			    requests_count = requests_count + CASE WHEN $3 THEN 1 ELSE 0 END
			WHERE id = $1`,
		id, usedAt, increment,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepository) queryOne(ctx context.Context, sql string, args ...any) (*apikey.Key, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query api key: %w", err)
		}
		return nil, apikey.ErrNotFound
	}
	return scanKey(rows)
}

func (r *APIKeyRepository) queryMany(ctx context.Context, sql string, args ...any) ([]*apikey.Key, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*apikey.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanKey(row pgx.Row) (*apikey.Key, error) {
	var (
		k        apikey.Key
		metadata []byte
	)
	err := row.Scan(
		&k.ID, &k.Prefix, &k.TokenDigest, &k.DigestAlgorithm, &k.Last4,
		&k.Name, &k.Owner.Type, &k.Owner.ID, &k.Scopes, &metadata,
		&k.ExpiresAt, &k.LastUsedAt, &k.RequestsCount, &k.RevokedAt,
		&k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &k.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &k, nil
}

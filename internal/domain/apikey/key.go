// Package apikey contains the credential record, its repository contract,
// and the issuance service with quota and validation rules.
package apikey

import (
	"time"
)

// Owner is an opaque reference to the principal controlling a key. A zero
// Owner means the key is ownerless.
type Owner struct {
	Type string
	ID   string
}

// IsZero reports whether the owner reference is absent.
func (o Owner) IsZero() bool {
	return o.Type == "" && o.ID == ""
}

// Key is the persisted representation of an issued API key. The plaintext
// token is never part of this record; it exists only in the IssuedKey
// returned once at issuance.
type Key struct {
	ID              string            `json:"id"`
	Prefix          string            `json:"prefix"`
	TokenDigest     string            `json:"token_digest"`
	DigestAlgorithm string            `json:"digest_algorithm"`
	Last4           string            `json:"last4"`
	Name            string            `json:"name,omitempty"`
	Owner           Owner             `json:"owner,omitzero"`
	Scopes          []string          `json:"scopes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time        `json:"last_used_at,omitempty"`
	RequestsCount   int64             `json:"requests_count"`
	RevokedAt       *time.Time        `json:"revoked_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Revoked reports whether the key has been permanently deactivated.
func (k *Key) Revoked() bool {
	return k.RevokedAt != nil
}

// ExpiredAt reports whether the key's expiry has passed at the given instant.
func (k *Key) ExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// ActiveAt reports whether the key is usable at the given instant: not
// revoked and either non-expiring or expiring strictly later.
func (k *Key) ActiveAt(now time.Time) bool {
	return !k.Revoked() && !k.ExpiredAt(now)
}

// MaskedToken renders the displayable form of the token once the plaintext
// is gone, e.g. "ak_live_••••rj4p".
func (k *Key) MaskedToken() string {
	if k.Prefix == "" || k.Last4 == "" {
		return "[invalid key data]"
	}
	return k.Prefix + "••••" + k.Last4
}

// IssuedKey pairs a freshly persisted Key with its plaintext token. The
// plaintext is handed to the issuing caller exactly once and exists nowhere
// else.
type IssuedKey struct {
	Key   *Key
	Token string
}

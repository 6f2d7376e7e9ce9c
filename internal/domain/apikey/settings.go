package apikey

import (
	"time"

	"github.com/keyward/keyward/internal/token"
)

// PrefixFunc supplies the current default token prefix. It is evaluated at
// issuance time so deployments can vary the prefix per environment.
type PrefixFunc func() string

// OwnerPolicy carries per-owner-kind overrides for issuance rules. Zero
// values defer to the Settings defaults.
type OwnerPolicy struct {
	// MaxKeys caps the owner's active keys. 0 defers to the global default;
	// a negative value means explicitly unlimited.
	MaxKeys int
	// RequireName forces a non-blank name for new keys.
	RequireName bool
	// DefaultScopes are applied when the caller passes no scopes.
	DefaultScopes []string
	// TokenPrefix overrides the settings-level prefix supplier.
	TokenPrefix string
}

// PolicyProvider resolves the policy for an owner. Returning ok=false means
// no owner-level policy exists and the Settings defaults apply.
type PolicyProvider func(owner Owner) (OwnerPolicy, bool)

// Settings is the explicit configuration value handed by reference into the
// issuance service and the authenticator. There is no process-wide singleton;
// tests construct a fresh one with DefaultSettings.
type Settings struct {
	// TokenPrefix supplies the default prefix for new tokens.
	TokenPrefix PrefixFunc
	// TokenLength is the number of random bytes drawn per token.
	TokenLength int
	// TokenAlphabet encodes the random part (base58 or hex).
	TokenAlphabet token.Alphabet
	// HashStrategy selects the storage digest algorithm.
	HashStrategy token.Strategy
	// SecureCompare is the constant-time comparison used by sha256 matching.
	SecureCompare token.CompareFunc

	// DefaultMaxKeysPerOwner caps active keys per owner; 0 disables the
	// global quota.
	DefaultMaxKeysPerOwner int
	// RequireKeyName forces a non-blank name on every new key.
	RequireKeyName bool
	// ExpireAfter, when positive, stamps new keys with now+ExpireAfter if
	// the caller set no expiry.
	ExpireAfter time.Duration
	// DefaultScopes are applied when neither the caller nor the owner
	// policy supplies scopes.
	DefaultScopes []string
	// TrackRequestsCount makes the stats consumer increment requests_count
	// in addition to stamping last_used_at.
	TrackRequestsCount bool

	// PolicyFor resolves owner-level overrides. Nil means no owner policies.
	PolicyFor PolicyProvider
}

// DefaultSettings returns the baseline configuration: bcrypt digests over
// 24 bytes of base58-encoded entropy under an "ak_" prefix, no quotas, no
// default scopes.
func DefaultSettings() *Settings {
	return &Settings{
		TokenPrefix:   func() string { return "ak_" },
		TokenLength:   24,
		TokenAlphabet: token.AlphabetBase58,
		HashStrategy:  token.StrategyBcrypt,
		SecureCompare: token.SecureCompare,
	}
}

// EffectivePrefix resolves the prefix for a new key: owner policy override
// first, then the settings supplier.
func (s *Settings) EffectivePrefix(owner Owner) string {
	if p, ok := s.policy(owner); ok && p.TokenPrefix != "" {
		return p.TokenPrefix
	}
	if s.TokenPrefix != nil {
		return s.TokenPrefix()
	}
	return ""
}

// EffectiveScopes resolves the scope set for a new key: an explicit argument
// wins, then owner policy defaults, then settings defaults.
func (s *Settings) EffectiveScopes(owner Owner, explicit []string) []string {
	if explicit != nil {
		return explicit
	}
	if p, ok := s.policy(owner); ok && p.DefaultScopes != nil {
		return p.DefaultScopes
	}
	return s.DefaultScopes
}

// NameRequired reports whether a new key for owner must carry a name.
func (s *Settings) NameRequired(owner Owner) bool {
	if p, ok := s.policy(owner); ok {
		return p.RequireName
	}
	return s.RequireKeyName
}

// MaxActiveKeys resolves the active-key quota for owner. 0 means unlimited.
func (s *Settings) MaxActiveKeys(owner Owner) int {
	if p, ok := s.policy(owner); ok && p.MaxKeys != 0 {
		if p.MaxKeys < 0 {
			return 0
		}
		return p.MaxKeys
	}
	return s.DefaultMaxKeysPerOwner
}

func (s *Settings) policy(owner Owner) (OwnerPolicy, bool) {
	if s.PolicyFor == nil || owner.IsZero() {
		return OwnerPolicy{}, false
	}
	return s.PolicyFor(owner)
}

package auth

import (
	"time"

	"github.com/keyward/keyward/internal/domain/apikey"
)

// TenantResolver derives the effective acting principal from a verified key.
// Returning nil means no tenant context.
type TenantResolver func(key *apikey.Key) any

// Config is the authenticator's explicit configuration, passed by reference
// at construction. Tests build a fresh one with DefaultConfig.
type Config struct {
	// Settings shares the issuance-side configuration: hash strategy,
	// prefix supplier, and the secure comparison function.
	Settings *apikey.Settings

	// Header is the request header carrying the token, with an optional
	// case-insensitive "Bearer " prefix.
	Header string
	// QueryParam, when non-empty, is consulted as a fallback after Header.
	QueryParam string

	// CacheTTL bounds how long verification outcomes (positive and
	// negative) live in the cache. TTL <= 0 disables caching, and also
	// bounds how long a revocation can be masked by a stale entry.
	CacheTTL time.Duration

	// EnforceHTTPS logs plaintext-HTTP authentication attempts; with
	// HTTPSStrictMode the attempt is rejected before extraction.
	EnforceHTTPS    bool
	HTTPSStrictMode bool

	// ResolveTenant maps a verified key to its acting principal. Nil uses
	// the key's owner.
	ResolveTenant TenantResolver
}

// DefaultConfig returns the baseline verification configuration over the
// given settings: Authorization header, no query fallback, five minute TTL.
func DefaultConfig(settings *apikey.Settings) *Config {
	if settings == nil {
		settings = apikey.DefaultSettings()
	}
	return &Config{
		Settings:     settings,
		Header:       "Authorization",
		CacheTTL:     5 * time.Minute,
		EnforceHTTPS: true,
	}
}

package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"
)

// Strategy selects the one-way digest algorithm for stored tokens.
type Strategy string

const (
	// StrategyBcrypt stores a salted, cost-factored bcrypt hash.
	StrategyBcrypt Strategy = "bcrypt"
	// StrategySHA256 stores a deterministic unsalted SHA-256 hex digest,
	// which permits direct lookup by digest. Acceptable for high-entropy
	// random tokens, unlike passwords.
	StrategySHA256 Strategy = "sha256"
)

// ErrUnsupportedStrategy is returned by Digest for unknown strategy tags.
var ErrUnsupportedStrategy = errors.New("unsupported hash strategy")

// ParseStrategy validates a strategy tag at configuration-load time.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBcrypt, StrategySHA256:
		return Strategy(s), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedStrategy, "%q", s)
	}
}

// CompareFunc is a constant-time equality check over two strings. Simple
// equality must never be used for digest comparison.
type CompareFunc func(a, b string) bool

// SecureCompare is the default CompareFunc, built on crypto/subtle.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Digest computes the one-way digest of plaintext under the given strategy
// and returns the digest together with the algorithm tag that must be stored
// alongside it.
func Digest(plaintext string, strategy Strategy) (digest, algorithm string, err error) {
	switch strategy {
	case StrategyBcrypt:
		h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return "", "", errors.Wrap(err, "bcrypt digest")
		}
		return string(h), string(StrategyBcrypt), nil
	case StrategySHA256:
		sum := sha256.Sum256([]byte(plaintext))
		return hex.EncodeToString(sum[:]), string(StrategySHA256), nil
	default:
		return "", "", errors.Wrapf(ErrUnsupportedStrategy, "%q", strategy)
	}
}

// Match reports whether plaintext corresponds to storedDigest produced under
// algorithm. It never returns an error: a corrupt stored hash, an unknown
// algorithm, or empty inputs all degrade to a plain mismatch, so a damaged
// credential reads as access denied and nothing else.
func Match(plaintext, storedDigest, algorithm string, compare CompareFunc) bool {
	if plaintext == "" || storedDigest == "" {
		return false
	}
	if compare == nil {
		compare = SecureCompare
	}

	switch Strategy(algorithm) {
	case StrategyBcrypt:
		// CompareHashAndPassword rehashes under the stored salt/cost and
		// compares in constant time; it errors on malformed hashes, which
		// counts as a mismatch here.
		return bcrypt.CompareHashAndPassword([]byte(storedDigest), []byte(plaintext)) == nil
	case StrategySHA256:
		sum := sha256.Sum256([]byte(plaintext))
		return compare(storedDigest, hex.EncodeToString(sum[:]))
	default:
		return false
	}
}

// fingerprintPrefix domain-separates cache fingerprints from storage
// digests, so a sha256-strategy digest never doubles as a cache key.
const fingerprintPrefix = "fp:"

// Fingerprint computes the fast one-way hash of a presented token used only
// as a cache key, never for verification: SHA-256 over a domain-separated
// form of the raw token, hex encoded, with no salt or cost factor.
func Fingerprint(plaintext string) string {
	sum := sha256.Sum256([]byte(fingerprintPrefix + plaintext))
	return hex.EncodeToString(sum[:])
}

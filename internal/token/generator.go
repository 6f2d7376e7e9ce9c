// Package token generates API key plaintexts and computes their storage
// digests. The plaintext layout is prefix || encoded-random-part; only the
// digest is ever persisted.
package token

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
)

// Alphabet selects the encoding of a token's random part.
type Alphabet string

const (
	// AlphabetBase58 encodes with the Bitcoin base58 alphabet, which avoids
	// visually ambiguous characters (0, O, I, l).
	AlphabetBase58 Alphabet = "base58"
	// AlphabetHex encodes as lowercase hex, two characters per byte.
	AlphabetHex Alphabet = "hex"
)

// ErrUnsupportedAlphabet is returned for alphabet tags other than base58 or hex.
var ErrUnsupportedAlphabet = errors.New("unsupported token alphabet")

// ParseAlphabet validates an alphabet tag. Unknown tags are rejected here so
// a misconfigured alphabet fails at load time, not per call.
func ParseAlphabet(s string) (Alphabet, error) {
	switch Alphabet(s) {
	case AlphabetBase58, AlphabetHex:
		return Alphabet(s), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedAlphabet, "%q", s)
	}
}

// Generate draws length cryptographically secure random bytes, encodes them
// under alphabet, and returns prefix || encoded. crypto/rand is safe for
// concurrent use, so successive calls are statistically independent.
func Generate(length int, prefix string, alphabet Alphabet) (string, error) {
	if length <= 0 {
		return "", errors.Errorf("token length must be positive, got %d", length)
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}

	var encoded string
	switch alphabet {
	case AlphabetBase58:
		encoded = base58.Encode(raw)
	case AlphabetHex:
		encoded = hex.EncodeToString(raw)
	default:
		return "", errors.Wrapf(ErrUnsupportedAlphabet, "%q", alphabet)
	}

	return prefix + encoded, nil
}

// Last4 returns the final four characters of the token's random part, the
// only fragment retained for display once the plaintext is gone.
func Last4(plaintext, prefix string) string {
	random := plaintext
	if len(prefix) < len(plaintext) && plaintext[:len(prefix)] == prefix {
		random = plaintext[len(prefix):]
	}
	if len(random) < 4 {
		return random
	}
	return random[len(random)-4:]
}

package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestAndMatch_RoundTrip(t *testing.T) {
	for _, strategy := range []Strategy{StrategyBcrypt, StrategySHA256} {
		t.Run(string(strategy), func(t *testing.T) {
			digest, algorithm, err := Digest("ak_s3cret_token", strategy)
			require.NoError(t, err)
			assert.Equal(t, string(strategy), algorithm)
			assert.NotEqual(t, "ak_s3cret_token", digest)

			assert.True(t, Match("ak_s3cret_token", digest, algorithm, SecureCompare))
			assert.False(t, Match("ak_wrong_token", digest, algorithm, SecureCompare))
		})
	}
}

func TestDigest_UnsupportedStrategy(t *testing.T) {
	_, _, err := Digest("tok", "md5")
	assert.ErrorIs(t, err, ErrUnsupportedStrategy)
}

func TestMatch_NeverErrors(t *testing.T) {
	digest, _, err := Digest("tok", StrategySHA256)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
		stored    string
		algorithm string
	}{
		{name: "unknown algorithm", plaintext: "tok", stored: digest, algorithm: "md5"},
		{name: "empty plaintext", plaintext: "", stored: digest, algorithm: "sha256"},
		{name: "empty stored digest", plaintext: "tok", stored: "", algorithm: "sha256"},
		{name: "corrupt bcrypt hash", plaintext: "tok", stored: "not-a-bcrypt-hash", algorithm: "bcrypt"},
		{name: "algorithm mismatch", plaintext: "tok", stored: digest, algorithm: "bcrypt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Match(tt.plaintext, tt.stored, tt.algorithm, SecureCompare))
		})
	}
}

func TestMatch_NilCompareFallsBackToSecureCompare(t *testing.T) {
	digest, algorithm, err := Digest("tok", StrategySHA256)
	require.NoError(t, err)

	assert.True(t, Match("tok", digest, algorithm, nil))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("bcrypt")
	require.NoError(t, err)
	assert.Equal(t, StrategyBcrypt, s)

	s, err = ParseStrategy("sha256")
	require.NoError(t, err)
	assert.Equal(t, StrategySHA256, s)

	_, err = ParseStrategy("argon2")
	assert.ErrorIs(t, err, ErrUnsupportedStrategy)
}

func TestFingerprint_DistinctFromStorageDigest(t *testing.T) {
	bcryptDigest, _, err := Digest("tok", StrategyBcrypt)
	require.NoError(t, err)
	sha256Digest, _, err := Digest("tok", StrategySHA256)
	require.NoError(t, err)

	fp := Fingerprint("tok")
	assert.Len(t, fp, 64)
	assert.NotEqual(t, bcryptDigest, fp)
	assert.NotEqual(t, sha256Digest, fp)
	assert.Equal(t, fp, Fingerprint("tok"))
	assert.NotEqual(t, fp, Fingerprint("tok2"))
}

// Package auth implements the verification engine: token extraction, cached
// lookup, candidate narrowing by prefix, digest verification, and outcome
// classification.
package auth

import (
	"strings"

	"github.com/keyward/keyward/internal/domain/apikey"
)

// Code classifies a failed authentication attempt.
type Code string

const (
	CodeMissingToken       Code = "missing_token"
	CodeInvalidToken       Code = "invalid_token"
	CodeRevokedKey         Code = "revoked_key"
	CodeExpiredKey         Code = "expired_key"
	CodeMissingScope       Code = "missing_scope"
	CodeInsecureConnection Code = "insecure_connection"
)

// Result is the terminal outcome of a verification attempt. It is ephemeral
// and never persisted.
type Result struct {
	OK      bool
	Key     *apikey.Key
	Code    Code
	Message string
	// RequiredScopes carries the originally required scopes when Code is
	// CodeMissingScope, for diagnostics.
	RequiredScopes []string
}

// Success builds a successful Result around the verified key.
func Success(key *apikey.Key) Result {
	return Result{OK: true, Key: key}
}

// Failure builds a failed Result with the given classification.
func Failure(code Code, message string) Result {
	return Result{Code: code, Message: message}
}

// MissingScope builds the scope-rejection Result. The credential itself
// authenticated; only this call's authorization failed.
func MissingScope(key *apikey.Key, required []string) Result {
	return Result{
		Key:            key,
		Code:           CodeMissingScope,
		Message:        "API key does not have the required scope(s): " + strings.Join(required, ", "),
		RequiredScopes: required,
	}
}

package auth

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/keyward/keyward/internal/cache"
	"github.com/keyward/keyward/internal/domain/apikey"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/token"
)

// Cache key namespaces. The token fingerprint is a fast hash of the
// presented plaintext, distinct from the storage digest.
const (
	tokenCachePrefix   = "keyward:token:"
	prefixSetCacheKey  = "keyward:known_prefixes"
	bearerSchemePrefix = "bearer "
)

// Authenticator verifies presented tokens against the credential store,
// amortizing digest comparisons through the cache. Verification is stateless
// per call and safe for unbounded parallel invocation.
type Authenticator struct {
	cfg        *Config
	repo       apikey.Repository
	cache      cache.Cache
	dispatcher events.Dispatcher
	now        func() time.Time
}

// NewAuthenticator wires the authenticator. A nil dispatcher disables the
// async side effects.
func NewAuthenticator(cfg *Config, repo apikey.Repository, c cache.Cache, dispatcher events.Dispatcher) *Authenticator {
	if cfg == nil {
		cfg = DefaultConfig(nil)
	}
	if dispatcher == nil {
		dispatcher = events.Discard{}
	}
	return &Authenticator{
		cfg:        cfg,
		repo:       repo,
		cache:      c,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Verify runs the full verification state machine over the request and
// returns the classified outcome. When requiredScopes is non-empty, a
// successfully verified key must additionally satisfy every scope.
func (a *Authenticator) Verify(ctx context.Context, req Request, requiredScopes ...string) Result {
	lg := zctx.From(ctx)

	a.dispatcher.Enqueue(events.Lifecycle{Kind: events.BeforeAuthentication})

	if a.cfg.EnforceHTTPS && !req.Secure() {
		lg.Warn("api key authentication attempted over insecure connection")
		if a.cfg.HTTPSStrictMode {
			return a.finish(Failure(CodeInsecureConnection, "API requests must be made over HTTPS"))
		}
	}

	plaintext, ok := a.extract(req)
	if !ok {
		return a.finish(Failure(CodeMissingToken, "API token is missing"))
	}

	key := a.findAndVerify(ctx, plaintext)

	now := a.now()
	switch {
	case key == nil:
		return a.finish(Failure(CodeInvalidToken, "API token is invalid"))
	case key.Revoked():
		return a.finish(Failure(CodeRevokedKey, "API key has been revoked"))
	case key.ExpiredAt(now):
		return a.finish(Failure(CodeExpiredKey, "API key has expired"))
	}

	if len(requiredScopes) > 0 && !key.AllowsAll(requiredScopes) {
		// The credential authenticated and stays cached as valid; only
		// this call's authorization is rejected.
		return a.finish(MissingScope(key, requiredScopes))
	}

	a.dispatcher.Enqueue(events.StatsUpdate{KeyID: key.ID, UsedAt: now})
	return a.finish(Success(key))
}

// Tenant resolves the acting principal for a verified key via the configured
// resolver. Resolver panics degrade to no tenant; tenant context is
// advisory, not authentication-critical.
func (a *Authenticator) Tenant(ctx context.Context, key *apikey.Key) (tenant any) {
	if key == nil {
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			zctx.From(ctx).Error("tenant resolver panicked", zap.Any("panic", rec))
			tenant = nil
		}
	}()

	if a.cfg.ResolveTenant != nil {
		return a.cfg.ResolveTenant(key)
	}
	if key.Owner.IsZero() {
		return nil
	}
	return key.Owner
}

// extract pulls the presented token out of the request: the configured
// header first, with an optional case-insensitive Bearer scheme, then the
// query-parameter fallback when one is configured.
func (a *Authenticator) extract(req Request) (string, bool) {
	if a.cfg.Header != "" {
		if v := req.Header(a.cfg.Header); v != "" {
			if len(v) > len(bearerSchemePrefix) && strings.EqualFold(v[:len(bearerSchemePrefix)], bearerSchemePrefix) {
				return strings.TrimSpace(v[len(bearerSchemePrefix):]), true
			}
			return v, true
		}
	}
	if a.cfg.QueryParam != "" {
		if v := req.QueryParam(a.cfg.QueryParam); v != "" {
			return v, true
		}
	}
	return "", false
}

// findAndVerify resolves the presented plaintext to a credential record, or
// nil when no stored digest matches. Outcomes, including misses, are cached
// under the token fingerprint for CacheTTL.
func (a *Authenticator) findAndVerify(ctx context.Context, plaintext string) *apikey.Key {
	lg := zctx.From(ctx)
	cacheKey := tokenCachePrefix + token.Fingerprint(plaintext)

	if a.cacheEnabled() {
		switch v := a.cacheRead(ctx, cacheKey).(type) {
		case *apikey.Key:
			return v
		case cache.NotFound:
			return nil
		case nil:
			// miss, fall through
		default:
			lg.Warn("ignoring corrupt cache entry", zap.String("key", cacheKey))
		}
	}

	verified, definitive := a.lookup(ctx, plaintext)

	if a.cacheEnabled() {
		switch {
		case verified != nil:
			a.cache.Write(ctx, cacheKey, verified, a.cfg.CacheTTL)
		case definitive:
			a.cache.Write(ctx, cacheKey, cache.NotFound{}, a.cfg.CacheTTL)
		}
	}

	return verified
}

// lookup performs the storage-backed verification for the configured hash
// strategy. definitive reports whether a nil key is a real miss; a transient
// store failure fails this call closed but must not be cached as NotFound,
// or a valid token would keep reading as invalid for the full TTL after the
// store recovers.
func (a *Authenticator) lookup(ctx context.Context, plaintext string) (key *apikey.Key, definitive bool) {
	lg := zctx.From(ctx)
	settings := a.cfg.Settings

	switch settings.HashStrategy {
	case token.StrategySHA256:
		// Deterministic digests permit direct lookup; the subsequent
		// constant-time match guards against the store returning a stale
		// or wrong row.
		digest, _, err := token.Digest(plaintext, token.StrategySHA256)
		if err != nil {
			return nil, false
		}
		stored, err := a.repo.FindByDigest(ctx, digest, string(token.StrategySHA256))
		switch {
		case errors.Is(err, apikey.ErrNotFound):
			return nil, true
		case err != nil:
			lg.Error("digest lookup failed", zap.Error(err))
			return nil, false
		}
		if !token.Match(plaintext, stored.TokenDigest, stored.DigestAlgorithm, settings.SecureCompare) {
			return nil, true
		}
		return stored, true

	case token.StrategyBcrypt:
		prefix, err := a.narrowPrefix(ctx, plaintext)
		if err != nil {
			return nil, false
		}
		if prefix == "" {
			return nil, true
		}
		candidates, err := a.repo.FindByPrefix(ctx, prefix, string(token.StrategyBcrypt))
		if err != nil {
			lg.Error("candidate lookup failed", zap.String("prefix", prefix), zap.Error(err))
			return nil, false
		}
		for _, candidate := range candidates {
			if token.Match(plaintext, candidate.TokenDigest, candidate.DigestAlgorithm, settings.SecureCompare) {
				return candidate, true
			}
		}
		return nil, true

	default:
		lg.Warn("authentication attempted with unsupported hash strategy",
			zap.String("strategy", string(settings.HashStrategy)),
		)
		return nil, false
	}
}

// narrowPrefix picks the prefix to scope the candidate query to: the
// currently configured prefix when the token starts with it, otherwise the
// longest matching member of the cached distinct-prefix set. Longest wins so
// a shorter prefix cannot falsely match a longer sibling. An empty prefix
// with a nil error means no known prefix matches.
func (a *Authenticator) narrowPrefix(ctx context.Context, plaintext string) (string, error) {
	configured := a.cfg.Settings.EffectivePrefix(apikey.Owner{})
	if configured != "" && strings.HasPrefix(plaintext, configured) {
		return configured, nil
	}

	known, err := a.knownPrefixes(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range known {
		if p != "" && strings.HasPrefix(plaintext, p) {
			return p, nil
		}
	}
	return "", nil
}

// knownPrefixes returns the distinct prefixes present in storage, longest
// first, cached with the same TTL as token lookups. The slice is shared
// through the cache across concurrent callers; it is sorted once here and
// never reordered by readers.
func (a *Authenticator) knownPrefixes(ctx context.Context) ([]string, error) {
	if a.cacheEnabled() {
		if v, ok := a.cache.Read(ctx, prefixSetCacheKey); ok {
			if prefixes, ok := v.([]string); ok {
				return prefixes, nil
			}
		}
	}

	prefixes, err := a.repo.DistinctPrefixes(ctx)
	if err != nil {
		zctx.From(ctx).Error("distinct prefix lookup failed", zap.Error(err))
		return nil, err
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	if a.cacheEnabled() {
		a.cache.Write(ctx, prefixSetCacheKey, prefixes, a.cfg.CacheTTL)
	}
	return prefixes, nil
}

func (a *Authenticator) cacheEnabled() bool {
	return a.cache != nil && a.cfg.CacheTTL > 0
}

func (a *Authenticator) cacheRead(ctx context.Context, key string) any {
	v, ok := a.cache.Read(ctx, key)
	if !ok {
		return nil
	}
	return v
}

// finish dispatches the after-authentication lifecycle event and returns r.
func (a *Authenticator) finish(r Result) Result {
	eventCtx := map[string]string{"success": "false"}
	if r.OK {
		eventCtx["success"] = "true"
		eventCtx["key_id"] = r.Key.ID
	} else {
		eventCtx["error_code"] = string(r.Code)
	}
	a.dispatcher.Enqueue(events.Lifecycle{Kind: events.AfterAuthentication, Context: eventCtx})
	return r
}

package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/domain/apikey"
	"github.com/keyward/keyward/internal/token"
)

// Config holds the complete application configuration, loadable from
// environment variables (KEYWARD_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KEYWARD_DATABASE_URL or DATABASE_URL); empty runs the in-memory store" flag:"database-url"`
	RedisAddr   string `usage:"Redis address for the shared verification cache; empty runs the in-process cache" flag:"redis-addr"`

	EventBuffer int `default:"1024" usage:"Buffered size of the side-effect queue" flag:"event-buffer"`

	Token     TokenConfig
	Keys      KeyPolicyConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// TokenConfig controls how plaintext tokens are minted and digested.
type TokenConfig struct {
	Prefix   string `default:"ak_" usage:"Prefix prepended to issued tokens"`
	Length   int    `default:"24" usage:"Random bytes drawn per token"`
	Alphabet string `default:"base58" usage:"Token encoding alphabet (base58 or hex)"`
	Strategy string `default:"bcrypt" usage:"Digest strategy for stored tokens (bcrypt or sha256)" flag:"hash-strategy"`
}

// KeyPolicyConfig controls issuance-side policy defaults.
type KeyPolicyConfig struct {
	MaxPerOwner   int           `default:"0" usage:"Max active keys per owner, 0 disables the quota" flag:"max-per-owner"`
	RequireName   bool          `default:"false" usage:"Require a name on every new key" flag:"require-name"`
	ExpireAfter   time.Duration `default:"0s" usage:"Default lifetime stamped on new keys, 0 disables" flag:"expire-after"`
	DefaultScopes []string      `usage:"Scopes granted when the caller supplies none" flag:"default-scopes"`
	TrackRequests bool          `default:"true" usage:"Increment requests_count on each verified request" flag:"track-requests"`
}

// AuthConfig controls the verification side.
type AuthConfig struct {
	Header       string        `default:"Authorization" usage:"Request header carrying the token" flag:"auth-header"`
	QueryParam   string        `default:"" usage:"Query parameter fallback for the token" flag:"auth-query-param"`
	CacheTTL     time.Duration `default:"5m" usage:"Verification cache TTL, 0 disables caching" flag:"cache-ttl"`
	EnforceHTTPS bool          `default:"true" usage:"Log authentication attempts over plaintext HTTP" flag:"enforce-https"`
	HTTPSStrict  bool          `default:"false" usage:"Reject authentication attempts over plaintext HTTP" flag:"https-strict"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults, rejecting unknown token tags up front.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KEYWARD",
		Files:     []string{"config.yaml", "/etc/keyward/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if _, err := token.ParseAlphabet(cfg.Token.Alphabet); err != nil {
		return nil, errors.Wrap(err, "token alphabet")
	}
	if _, err := token.ParseStrategy(cfg.Token.Strategy); err != nil {
		return nil, errors.Wrap(err, "hash strategy")
	}
	if cfg.Token.Length <= 0 {
		return nil, errors.New("token length must be positive")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's KEYWARD_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Settings materializes the issuance configuration. Token tags were
// validated at load time.
func (c *Config) Settings() *apikey.Settings {
	alphabet, _ := token.ParseAlphabet(c.Token.Alphabet)
	strategy, _ := token.ParseStrategy(c.Token.Strategy)

	s := apikey.DefaultSettings()
	s.TokenPrefix = func() string { return c.Token.Prefix }
	s.TokenLength = c.Token.Length
	s.TokenAlphabet = alphabet
	s.HashStrategy = strategy
	s.DefaultMaxKeysPerOwner = c.Keys.MaxPerOwner
	s.RequireKeyName = c.Keys.RequireName
	s.ExpireAfter = c.Keys.ExpireAfter
	s.DefaultScopes = c.Keys.DefaultScopes
	s.TrackRequestsCount = c.Keys.TrackRequests
	return s
}

// AuthConfig materializes the verification configuration over settings.
func (c *Config) AuthConfig(settings *apikey.Settings) *auth.Config {
	ac := auth.DefaultConfig(settings)
	if c.Auth.Header != "" {
		ac.Header = c.Auth.Header
	}
	ac.QueryParam = c.Auth.QueryParam
	ac.CacheTTL = c.Auth.CacheTTL
	ac.EnforceHTTPS = c.Auth.EnforceHTTPS
	ac.HTTPSStrictMode = c.Auth.HTTPSStrict
	return ac
}

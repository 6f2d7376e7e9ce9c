package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/keyward/keyward/internal/domain/apikey"
)

// Envelope kinds for the Redis value encoding.
const (
	kindKey      = "key"
	kindNotFound = "not_found"
	kindPrefixes = "prefixes"
)

// envelope wraps a cache value with a kind tag so corrupt or foreign entries
// can be recognized and ignored on read.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var _ Cache = (*Redis)(nil)

// Redis is a Cache backed by a shared Redis instance, letting all replicas
// of the service share one verification cache.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis cache over the given client and verifies
// connectivity with a ping.
func NewRedis(ctx context.Context, client *redis.Client) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

// Read fetches and decodes the value under key. Transport errors and
// undecodable entries both read as a miss; caching is advisory and must
// never fail a verification.
func (r *Redis) Read(ctx context.Context, key string) (any, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Warn("redis cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}

	switch env.Kind {
	case kindNotFound:
		return NotFound{}, true
	case kindKey:
		var k apikey.Key
		if err := json.Unmarshal(env.Payload, &k); err != nil {
			return nil, false
		}
		return &k, true
	case kindPrefixes:
		var prefixes []string
		if err := json.Unmarshal(env.Payload, &prefixes); err != nil {
			return nil, false
		}
		return prefixes, true
	default:
		return nil, false
	}
}

// Write encodes and stores value under key for ttl. Unsupported shapes and
// transport errors are logged and dropped.
func (r *Redis) Write(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	env := envelope{}
	switch v := value.(type) {
	case NotFound:
		env.Kind = kindNotFound
	case *apikey.Key:
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		env.Kind = kindKey
		env.Payload = payload
	case []string:
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		env.Kind = kindPrefixes
		env.Payload = payload
	default:
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		zctx.From(ctx).Warn("redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}

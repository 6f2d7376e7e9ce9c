package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/keyward/keyward/internal/domain/apikey"
)

// Hook is a lifecycle callback. Hooks run on the consumer goroutine, never
// on the request path.
type Hook func(ctx context.Context, info map[string]string)

// Consumer applies queued messages: stats updates go to the repository,
// lifecycle messages fan out to registered hooks. Every failure is logged
// and swallowed; the originating request has already been answered.
type Consumer struct {
	repo           apikey.Repository
	lg             *zap.Logger
	trackRequests  bool
	lifecycleHooks map[string][]Hook
}

// NewConsumer creates a Consumer. trackRequests controls whether StatsUpdate
// increments requests_count in addition to stamping last_used_at.
func NewConsumer(repo apikey.Repository, lg *zap.Logger, trackRequests bool) *Consumer {
	return &Consumer{
		repo:           repo,
		lg:             lg,
		trackRequests:  trackRequests,
		lifecycleHooks: make(map[string][]Hook),
	}
}

// OnLifecycle registers a hook for the given lifecycle kind.
func (c *Consumer) OnLifecycle(kind string, hook Hook) {
	c.lifecycleHooks[kind] = append(c.lifecycleHooks[kind], hook)
}

// Handle applies one message.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case StatsUpdate:
		if err := c.repo.RecordUsage(ctx, m.KeyID, m.UsedAt, c.trackRequests); err != nil {
			c.lg.Error("stats update failed",
				zap.String("key_id", m.KeyID),
				zap.Error(err),
			)
		}
	case Lifecycle:
		hooks, ok := c.lifecycleHooks[m.Kind]
		if !ok {
			return
		}
		for _, hook := range hooks {
			c.runHook(ctx, m, hook)
		}
	default:
		c.lg.Warn("unknown event message", zap.Any("message", msg))
	}
}

// runHook isolates a single hook invocation so a panicking callback cannot
// take down the consumer loop.
func (c *Consumer) runHook(ctx context.Context, m Lifecycle, hook Hook) {
	defer func() {
		if rec := recover(); rec != nil {
			c.lg.Error("lifecycle hook panicked",
				zap.String("kind", m.Kind),
				zap.Any("panic", rec),
			)
		}
	}()
	hook(ctx, m.Context)
}

package events

import (
	"context"

	"go.uber.org/zap"
)

var _ Dispatcher = (*Channel)(nil)

// Channel is a Dispatcher over a bounded in-process queue. When the buffer
// is full the message is dropped and logged; a stalled consumer must never
// back-pressure authentication.
type Channel struct {
	ch chan Message
	lg *zap.Logger
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(buffer int, lg *zap.Logger) *Channel {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Channel{ch: make(chan Message, buffer), lg: lg}
}

// Enqueue submits msg without blocking.
func (c *Channel) Enqueue(msg Message) {
	select {
	case c.ch <- msg:
	default:
		c.lg.Warn("event queue full, dropping message", zap.Any("message", msg))
	}
}

// Drain returns the receive side of the queue for a consumer loop.
func (c *Channel) Drain() <-chan Message {
	return c.ch
}

// Run feeds queued messages to the consumer until ctx is cancelled.
func (c *Channel) Run(ctx context.Context, consumer *Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.ch:
			consumer.Handle(ctx, msg)
		}
	}
}

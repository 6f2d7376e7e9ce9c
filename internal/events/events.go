// Package events carries the fire-and-forget side effects of authentication:
// usage-stat updates and lifecycle callbacks. Dispatching never blocks the
// request path and delivery failures never affect the authentication verdict.
package events

import (
	"time"
)

// Lifecycle callback kinds.
const (
	BeforeAuthentication = "before_authentication"
	AfterAuthentication  = "after_authentication"
)

// StatsUpdate asks the consumer to stamp a key's usage telemetry. Delivery
// is at-least-once; applying the same update twice is harmless.
type StatsUpdate struct {
	KeyID  string
	UsedAt time.Time
}

// Lifecycle asks the consumer to run the hooks registered for Kind with the
// given context map.
type Lifecycle struct {
	Kind    string
	Context map[string]string
}

// Message is one of StatsUpdate or Lifecycle.
type Message any

// Dispatcher accepts outbound messages without blocking. Implementations
// drop on overload rather than stall a request.
type Dispatcher interface {
	Enqueue(msg Message)
}

// Discard is a Dispatcher that drops everything, for deployments that track
// no usage telemetry and register no hooks.
type Discard struct{}

// Enqueue drops the message.
func (Discard) Enqueue(Message) {}

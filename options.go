package mcpbridge

import (
	"encoding/json"
	"log/slog"
	"time"
)

// NotificationHandler observes notifications emitted by any backend server.
// It is called from the owning client's response listener; implementations
// should return quickly or hand off to their own goroutine.
type NotificationHandler func(server, method string, params json.RawMessage)

// Option configures a Bridge using the functional options pattern.
type Option func(*Bridge)

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.log = logger
	}
}

// WithDefaultTimeout sets the per-request timeout used when Call receives a
// non-positive timeout. Defaults to 30 seconds.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		b.defaultTimeout = timeout
	}
}

// WithGracePeriod sets how long a stopping server is given to exit
// voluntarily before being killed. Defaults to 5 seconds.
func WithGracePeriod(grace time.Duration) Option {
	return func(b *Bridge) {
		b.grace = grace
	}
}

// WithMaxInFlight bounds the number of unresolved requests per server.
// Zero (the default) means unbounded.
func WithMaxInFlight(n int) Option {
	return func(b *Bridge) {
		b.maxInFlight = n
	}
}

// WithNotificationHandler routes every server's notifications to fn.
func WithNotificationHandler(fn NotificationHandler) Option {
	return func(b *Bridge) {
		b.onNotification = fn
	}
}

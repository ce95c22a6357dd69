package bus

// Dispatcher fan-out semantics:
// - Topic-based: handlers subscribe to a topic (a collection name, or "" for
//   process-wide notifications).
// - Synchronous delivery: Publish calls handlers in the caller goroutine, in
//   subscription order.
// - Isolation: a handler that returns an error or panics is logged and does
//   not stop delivery to the remaining handlers.
// - Copy-on-notify: Publish works on a snapshot, so handlers may subscribe or
//   cancel subscriptions while being notified.
// - All methods are safe for concurrent use.

// Handler is a subscriber callback. A returned error is logged and
// aggregated into the Publish result.
type Handler[T any] func(value T) error

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// Topic returns the topic this subscription listens to.
	Topic() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel()
}

// Observer is notified after every Publish. Observers should return quickly.
type Observer interface {
	OnDelivered(topic string, handlers int, failures int)
}

// Metrics is a best-effort snapshot of dispatcher activity.
type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Failures          uint64
	SubscribersActive uint64
}

package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/replica/internal/core/observability/log"
)

type subscription[T any] struct {
	id      string
	topic   string
	handler Handler[T]
	active  atomic.Bool
	cancel  func()
}

func (s *subscription[T]) ID() string     { return s.id }
func (s *subscription[T]) Topic() string  { return s.topic }
func (s *subscription[T]) IsActive() bool { return s.active.Load() }
func (s *subscription[T]) Cancel() {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
}

// Dispatcher is an in-process typed pub/sub registry.
type Dispatcher[T any] struct {
	name   string
	logger log.Log

	mu        sync.RWMutex
	topics    map[string][]*subscription[T]
	observers []Observer

	published atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
}

// New creates a dispatcher. name is used in log records.
func New[T any](name string, logger log.Log) *Dispatcher[T] {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher[T]{
		name:   name,
		logger: logger.With(log.String("dispatcher", name)),
		topics: make(map[string][]*subscription[T]),
	}
}

// Subscribe registers handler for topic.
func (d *Dispatcher[T]) Subscribe(topic string, handler Handler[T]) Subscription {
	s := &subscription[T]{id: uuid.NewString(), topic: topic, handler: handler}
	s.active.Store(true)
	s.cancel = func() { d.remove(topic, s.id) }

	d.mu.Lock()
	d.topics[topic] = append(d.topics[topic], s)
	d.mu.Unlock()

	return s
}

func (d *Dispatcher[T]) remove(topic, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.topics[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]*subscription[T], 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.topics, topic)
		} else {
			d.topics[topic] = next
		}
		return
	}
}

// Publish delivers value to every active subscriber of topic. Handler
// failures are logged and joined into the returned error.
func (d *Dispatcher[T]) Publish(topic string, value T) error {
	d.mu.RLock()
	subs := d.topics[topic]
	observers := d.observers
	d.mu.RUnlock()

	var all error
	failed := 0
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		if err := d.invoke(s, value); err != nil {
			failed++
			all = errors.Join(all, err)
			d.logger.Error("handler failed",
				log.String("topic", topic),
				log.String("subscription", s.id),
				log.Error(err))
		}
	}

	d.published.Add(1)
	d.delivered.Add(uint64(len(subs)))
	d.failures.Add(uint64(failed))
	for _, obs := range observers {
		obs.OnDelivered(topic, len(subs), failed)
	}
	return all
}

func (d *Dispatcher[T]) invoke(s *subscription[T], value T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(value)
}

// AddObserver registers obs for delivery callbacks.
func (d *Dispatcher[T]) AddObserver(obs Observer) {
	d.mu.Lock()
	d.observers = append(append([]Observer(nil), d.observers...), obs)
	d.mu.Unlock()
}

// Len returns the number of subscribers of topic.
func (d *Dispatcher[T]) Len(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

// Topics returns the topics that currently have subscribers.
func (d *Dispatcher[T]) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.topics))
	for t := range d.topics {
		out = append(out, t)
	}
	return out
}

// Clear deactivates and drops every subscription.
func (d *Dispatcher[T]) Clear() {
	d.mu.Lock()
	old := d.topics
	d.topics = make(map[string][]*subscription[T])
	d.mu.Unlock()

	for _, subs := range old {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
}

func (d *Dispatcher[T]) GetMetrics() Metrics {
	d.mu.RLock()
	var active uint64
	for _, subs := range d.topics {
		active += uint64(len(subs))
	}
	d.mu.RUnlock()

	return Metrics{
		Published:         d.published.Load(),
		DeliveredHandlers: d.delivered.Load(),
		Failures:          d.failures.Load(),
		SubscribersActive: active,
	}
}

// Package event provides typed events and a synchronous publish/subscribe bus.
//
// Delivery happens in the publisher's goroutine, in subscription order. A
// handler error or panic does not stop delivery to the remaining handlers;
// all failures are joined into the error returned by Publish.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/easel/internal/event/topic"
)

// Subscription is a registered handler.
type Subscription struct {
	id      string
	pattern topic.Topic
	handler Handler
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic pattern.
func (s *Subscription) Topic() topic.Topic { return s.pattern }

// Stats contains bus counters.
type Stats struct {
	EventsPublished   uint64
	HandlersExecuted  uint64
	HandlerErrors     uint64
	HandlerPanics     uint64
	ActiveSubscribers int
}

// Bus is a synchronous event bus. It is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription

	logger *slog.Logger

	published atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topics matching pattern.
func (b *Bus) Subscribe(pattern topic.Topic, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}
	sub := &Subscription{id: uuid.NewString(), pattern: pattern, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(pattern, fn)
}

// Unsubscribe removes sub.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

// Publish delivers event to every matching subscription. The event must
// implement TopicProvider.
func (b *Bus) Publish(ctx context.Context, event any) error {
	tp, ok := event.(TopicProvider)
	if !ok || tp.EventTopic() == "" {
		return ErrInvalidEvent
	}
	t := tp.EventTopic()

	b.mu.RLock()
	var matched []*Subscription
	for _, s := range b.subs {
		if t.Matches(s.pattern) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)

	var errs []error
	for _, s := range matched {
		if err := b.deliver(ctx, s, t, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, t topic.Topic, event any) (err error) {
	b.executed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panicked", "topic", t, "subscription", s.id, "panic", r)
			err = &DeliveryError{Subscription: s.id, Topic: t, Panic: r}
		}
	}()
	if herr := s.handler.Handle(ctx, event); herr != nil {
		b.failed.Add(1)
		return &DeliveryError{Subscription: s.id, Topic: t, Err: herr}
	}
	return nil
}

// Stats returns the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		EventsPublished:   b.published.Load(),
		HandlersExecuted:  b.executed.Load(),
		HandlerErrors:     b.failed.Load(),
		HandlerPanics:     b.panics.Load(),
		ActiveSubscribers: n,
	}
}

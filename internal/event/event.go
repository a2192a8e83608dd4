package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/easel/internal/event/topic"
)

// Topics published by the document core.
const (
	TopicHistoryAffect  topic.Topic = "history.affect"
	TopicLayerUpdated   topic.Topic = "document.layer.updated"
	TopicConfigReloaded topic.Topic = "config.reloaded"
)

// Event is a typed notification. Handlers receive it by value.
type Event[T any] struct {
	Topic   topic.Topic
	Payload T

	ID     string
	Time   time.Time
	Source string
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent[T any](t topic.Topic, payload T, source string) Event[T] {
	return Event[T]{
		Topic:   t,
		Payload: payload,
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Source:  source,
	}
}

// EventTopic lets the bus route an Event without knowing T.
func (e Event[T]) EventTopic() topic.Topic { return e.Topic }

// TopicProvider is what the bus accepts for publishing.
type TopicProvider interface {
	EventTopic() topic.Topic
}

// Publisher delivers events. *Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Handler receives type-erased events.
type Handler interface {
	Handle(ctx context.Context, event any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event any) error

func (f HandlerFunc) Handle(ctx context.Context, event any) error { return f(ctx, event) }

// AsHandler adapts fn to a Handler. Events with another payload type are
// ignored.
func AsHandler[T any](fn func(ctx context.Context, e Event[T]) error) Handler {
	return HandlerFunc(func(ctx context.Context, event any) error {
		e, ok := event.(Event[T])
		if !ok {
			return nil
		}
		return fn(ctx, e)
	})
}

// Transition names the history step that produced an event.
type Transition string

const (
	TransitionDo   Transition = "do"
	TransitionUndo Transition = "undo"
	TransitionRedo Transition = "redo"
)

// HistoryAffect follows every history transition and carries the
// command's affected element uids.
type HistoryAffect struct {
	ElementUIDs []string
	Transition  Transition
	Description string
}

// LayerUpdated is published once per affected element after a transition.
type LayerUpdated struct {
	ElementUID string
	Transition Transition
}

// ConfigReloaded is published when a new configuration was applied.
type ConfigReloaded struct {
	Path string
}

package event

import (
	"errors"
	"fmt"

	"github.com/dshills/easel/internal/event/topic"
)

var (
	ErrInvalidEvent         = errors.New("event has no topic")
	ErrInvalidTopic         = errors.New("malformed topic")
	ErrSubscriptionNotFound = errors.New("unknown subscription")
	ErrHandlerPanic         = errors.New("handler panicked")
	ErrNilHandler           = errors.New("nil handler")
)

// DeliveryError reports one failed delivery: either the handler returned
// Err or it panicked with Panic.
type DeliveryError struct {
	Subscription string
	Topic        topic.Topic
	Err          error
	Panic        any
}

func (e *DeliveryError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("deliver %s to %s: panic: %v", e.Topic, e.Subscription, e.Panic)
	}
	return fmt.Sprintf("deliver %s to %s: %v", e.Topic, e.Subscription, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches ErrHandlerPanic for recovered panics.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrHandlerPanic && e.Panic != nil
}

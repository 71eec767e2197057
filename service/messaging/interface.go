package messaging

import (
	"context"
)

// Queue represents an abstract message queue for any payload type
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue, blocking while the
	// queue is full
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue, blocking while the
	// queue is empty
	Consume(ctx context.Context) (Message[T], error)
}

// Ring is a bounded queue usable from contexts that must never block, such as
// an interrupt handler or a per-core deferred worker.
type Ring[T any] interface {
	Queue[T]

	// Offer adds a message without blocking; it returns false when the ring
	// is full and the message was dropped
	Offer(t *T) bool

	// Poll retrieves a message without blocking
	Poll() (Message[T], bool)

	// Size returns the number of queued messages
	Size() int
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// T returns the payload of this message
	T() *T

	// Ack acknowledges processing of this message
	Ack() error
}

package event

import (
	"context"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/service/messaging"
)

// Publisher publishes events of type T to a bounded queue
type Publisher[T any] struct {
	queue messaging.Ring[Event[T]]
}

// NewPublisher creates a publisher
func NewPublisher[T any](queue messaging.Ring[Event[T]]) *Publisher[T] {
	return &Publisher[T]{
		queue: queue,
	}
}

// Publish adds an event, blocking while the queue is full
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	return p.queue.Publish(ctx, event)
}

// Offer adds an event unless the queue is full; it never blocks so it is safe
// to call from the core workers
func (p *Publisher[T]) Offer(event *Event[T]) bool {
	event.CreatedAt = time.Now()
	return p.queue.Offer(event)
}

// Consume retrieves the next event
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}

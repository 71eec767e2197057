package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/service/messaging"
	"github.com/google/uuid"
)

// Config for memory queue implementation
type Config struct {
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for memory queue
func DefaultConfig() Config {
	return Config{
		QueueBuffer: 100,
	}
}

// Message implements messaging.Message for the in-memory queue
type Message[T any] struct {
	id        string
	payload   T
	mu        sync.Mutex
	processed bool
	createdAt time.Time
}

// ID returns the message id
func (m *Message[T]) ID() string {
	return m.id
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack acknowledges the message as processed
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message already processed")
	}

	m.processed = true
	return nil
}

// Queue implements a bounded in-memory messaging.Ring
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	dropped  atomic.Int64
}

// NewQueue creates a new in-memory queue
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}

	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
	}
}

func (q *Queue[T]) newMessage(t *T) *Message[T] {
	return &Message[T]{
		id:        uuid.New().String(),
		payload:   *t,
		createdAt: time.Now(),
	}
}

// Publish adds a new item to the queue
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case q.messages <- q.newMessage(t):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Offer adds a new item to the queue unless it is full
func (q *Queue[T]) Offer(t *T) bool {
	select {
	case q.messages <- q.newMessage(t):
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Consume retrieves a single item from the queue
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll retrieves a single item from the queue if one is available
func (q *Queue[T]) Poll() (messaging.Message[T], bool) {
	select {
	case msg := <-q.messages:
		return msg, true
	default:
		return nil, false
	}
}

// Drain removes every queued item and returns the payloads in order
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		msg, ok := q.Poll()
		if !ok {
			return out
		}
		_ = msg.Ack()
		out = append(out, *msg.T())
	}
}

// Size returns the current number of messages in the queue
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.messages)
}

// Dropped returns the number of items rejected by Offer because the queue was full
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

// ensure Queue implements messaging.Ring interface
var _ messaging.Ring[any] = (*Queue[any])(nil)

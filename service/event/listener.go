package event

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener dispatches consumed events to a handler on its own goroutine
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	logger    logrus.FieldLogger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewListener creates a listener
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T]), logger logrus.FieldLogger) *Listener[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		logger:    logger,
	}
}

// Start begins consuming events
func (l *Listener[T]) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			event, err := l.publisher.Consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				l.logger.WithError(err).Warn("failed to consume event")
				continue
			}
			if event != nil {
				l.handler(event)
			}
		}
	}()
}

// Stop stops consuming and waits for the handler goroutine to exit
func (l *Listener[T]) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

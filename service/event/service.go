package event

import (
	"sync"

	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/sirupsen/logrus"
)

// Service publishes core and task lifecycle notices. Emit never blocks: when
// nobody drains the queue the oldest pending notices are kept and new ones are
// dropped.
type Service struct {
	publisher   *Publisher[Notice]
	queue       *memory.Queue[Event[Notice]]
	listener    *Listener[Notice]
	queueConfig memory.Config
	logger      logrus.FieldLogger
	mux         sync.Mutex
}

// New creates an event service
func New(opts ...Option) *Service {
	ret := &Service{
		queueConfig: memory.DefaultConfig(),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.queue = memory.NewQueue[Event[Notice]](ret.queueConfig)
	ret.publisher = NewPublisher[Notice](ret.queue)
	return ret
}

// Emit publishes a notice of the given type for a core
func (s *Service) Emit(eventType string, core int, notice Notice) {
	if s == nil {
		return
	}
	ctx := &Context{EventType: eventType, Core: core}
	if !s.publisher.Offer(NewEvent(ctx, notice)) {
		s.logger.WithFields(logrus.Fields{"event": eventType, "core": core}).Debug("event queue full, notice dropped")
	}
}

// EmitTask publishes a task scoped notice
func (s *Service) EmitTask(eventType string, core int, sessionID, taskID string, notice Notice) {
	if s == nil {
		return
	}
	ctx := &Context{EventType: eventType, Core: core, SessionID: sessionID, TaskID: taskID}
	s.publisher.Offer(NewEvent(ctx, notice))
}

// Publisher returns the underlying publisher
func (s *Service) Publisher() *Publisher[Notice] {
	return s.publisher
}

// Dropped returns the number of notices dropped because the queue was full
func (s *Service) Dropped() int64 {
	return s.queue.Dropped()
}

// SetListener replaces the listener consuming notices
func (s *Service) SetListener(handler func(*Event[Notice])) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener[Notice](s.publisher, handler, s.logger)
	s.listener.Start()
}

// Shutdown stops the listener
func (s *Service) Shutdown() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
}

// Package recovery runs the pool watchdog and the recovery executor. The
// watchdog samples every core on a ticker and starts the recovery of a hung
// one; the reset itself may block, so it is handed to executor goroutines
// through a request queue.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/sirupsen/logrus"
)

// Core is a core under watch
type Core interface {
	Watch(ctx context.Context, threshold int) bool
	BeginRecovery(ctx context.Context, coolDown time.Duration, force bool) error
	Recover(ctx context.Context, maxFailures int) error
	AbortRecovery(cause error)
}

// Source lists the cores to watch
type Source func() []Core

// Request asks the executor to reset a core
type Request struct {
	Core Core
	done chan error
}

// Service is the watchdog and recovery executor
type Service struct {
	config     Config
	source     Source
	logger     logrus.FieldLogger
	queue      *memory.Queue[Request]
	workerWg   sync.WaitGroup
	cancel     context.CancelFunc
	shutdownCh chan struct{}
	once       sync.Once
}

// New creates a recovery service
func New(source Source, config Config, logger logrus.FieldLogger) *Service {
	defaults := DefaultConfig()
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = defaults.WatchdogInterval
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = defaults.QueueDepth
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		config:     config,
		source:     source,
		logger:     logger,
		queue:      memory.NewQueue[Request](memory.Config{QueueBuffer: config.QueueDepth}),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the executor workers and the watchdog
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.config.Workers; i++ {
		s.workerWg.Add(1)
		go s.work(ctx, i)
	}
	s.workerWg.Add(1)
	go s.watch(ctx)
	return nil
}

func (s *Service) watch(ctx context.Context) {
	defer s.workerWg.Done()
	ticker := time.NewTicker(s.config.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one watchdog pass over every core
func (s *Service) Tick(ctx context.Context) {
	for _, c := range s.source() {
		if !c.Watch(ctx, s.config.HangThreshold) {
			continue
		}
		if err := c.BeginRecovery(ctx, s.config.CoolDown, false); err != nil {
			if errors.Is(err, errs.ErrRecoveryCoolDown) {
				s.logger.WithError(err).Debug("recovery deferred")
			} else {
				s.logger.WithError(err).Warn("recovery not started")
			}
			continue
		}
		if err := s.queue.Publish(ctx, &Request{Core: c}); err != nil {
			s.logger.WithError(err).Warn("failed to queue recovery")
			c.AbortRecovery(err)
		}
	}
}

// Reset forces the recovery of a core, bypassing the cool-down, and waits
// for it to complete
func (s *Service) Reset(ctx context.Context, c Core) error {
	if err := c.BeginRecovery(ctx, s.config.CoolDown, true); err != nil {
		return err
	}
	done := make(chan error, 1)
	if err := s.queue.Publish(ctx, &Request{Core: c, done: done}); err != nil {
		c.AbortRecovery(err)
		return fmt.Errorf("queue recovery: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) work(ctx context.Context, id int) {
	defer s.workerWg.Done()
	for {
		msg, err := s.queue.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}
		_ = msg.Ack()
		request := msg.T()
		err = request.Core.Recover(ctx, s.config.MaxResetFailures)
		if err != nil {
			s.logger.WithError(err).WithField("worker", id).Warn("recovery failed")
		}
		if request.done != nil {
			request.done <- err
		}
	}
}

// Shutdown stops the watchdog and the executor
func (s *Service) Shutdown() {
	s.once.Do(func() {
		close(s.shutdownCh)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.workerWg.Wait()
}

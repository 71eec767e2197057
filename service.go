package bpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/core"
	"github.com/D-Robotics/x5-kernel-sub005/service/dao"
	"github.com/D-Robotics/x5-kernel-sub005/service/dao/store"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/service/group"
	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/D-Robotics/x5-kernel-sub005/service/recovery"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/D-Robotics/x5-kernel-sub005/service/stats"
	"github.com/D-Robotics/x5-kernel-sub005/tracing"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service is the pool registry: it owns the cores, the session and group
// registries and the backend binding.
type Service struct {
	config         *Config
	logger         logrus.FieldLogger
	initialBackend backend.Backend
	eventHandler   func(*event.Event[event.Notice])

	mu      sync.RWMutex
	cores   []*core.Core
	backend backend.Backend

	sessions dao.Service[string, session.Session]
	groups   dao.Service[uint32, group.Group]
	progress *progress.Progress
	events   *event.Service
	stats    *stats.Service
	recovery *recovery.Service

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v: %w", err, errs.ErrInvalidArgument)
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.config.Tracing.Enabled {
		tracingConfig := s.config.Tracing
		if err := tracing.Init(tracingConfig.ServiceName, tracingConfig.ServiceVersion, tracingConfig.OutputFile); err != nil {
			s.logger.WithError(err).Warn("failed to initialise tracing")
		}
	}

	s.progress = progress.New()
	s.events = event.New(
		event.WithQueueConfig(memory.Config{QueueBuffer: s.config.Events.QueueDepth}),
		event.WithLogger(s.logger),
	)
	if s.eventHandler != nil {
		s.events.SetListener(s.eventHandler)
	}
	s.sessions = store.NewMemoryStore[string, session.Session](func(v *session.Session) string { return v.ID })
	s.groups = store.NewMemoryStore[uint32, group.Group](func(v *group.Group) uint32 { return v.ID })

	for _, item := range s.config.Cores {
		s.cores = append(s.cores, core.New(item.Index,
			core.WithConfig(s.config.Core),
			core.WithSchedulerConfig(s.config.Scheduler),
			core.WithHotplug(item.Hotplug),
			core.WithLogger(s.logger),
			core.WithEvents(s.events),
			core.WithProgress(s.progress),
		))
	}
	s.stats = stats.New(s.meters, s.config.Stats)
	s.recovery = recovery.New(s.watched, s.config.Recovery, s.logger.WithField("component", "recovery"))

	if s.initialBackend != nil {
		if err := s.RegisterBackend(s.initialBackend); err != nil {
			return err
		}
	}
	return nil
}

// New creates a pool service. Cores are created from the configuration but
// stay disabled until Start (autoEnable cores) or EnableCore.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	if err := ret.init(options); err != nil {
		return nil, err
	}
	return ret, nil
}

// Start launches the core workers, the statistics decay loop and the
// recovery service, then enables every autoEnable core.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, c := range s.Cores() {
		c.Start(runCtx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.stats.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("stats decay stopped")
		}
	}()
	if err := s.recovery.Start(runCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range s.config.Cores {
		if !item.AutoEnable {
			continue
		}
		c := s.Cores()[i]
		g.Go(func() error {
			return c.Enable(gctx)
		})
	}
	return g.Wait()
}

// Shutdown disables every core, failing back its queued work, and stops the
// background goroutines. The returned error aggregates core teardown
// timeouts.
func (s *Service) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var failures []error
	for _, c := range s.Cores() {
		c := c
		g.Go(func() error {
			for c.Enabled() {
				if err := c.Disable(gctx); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.running {
		s.recovery.Shutdown()
		s.stats.Shutdown()
		s.cancel()
		s.wg.Wait()
		for _, c := range s.Cores() {
			c.Stop()
		}
		s.running = false
	}
	s.events.Shutdown()
	return errors.Join(failures...)
}

// RegisterBackend binds a hardware backend to every core. A core whose
// capability does not match its first binding is left detached and the error
// is returned.
func (s *Service) RegisterBackend(be backend.Backend) error {
	if be == nil {
		return fmt.Errorf("register backend: %w", errs.ErrNoDevice)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var failures []error
	for _, c := range s.cores {
		if err := c.Attach(be); err != nil {
			failures = append(failures, err)
		}
	}
	s.backend = be
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	s.logger.WithField("cores", len(s.cores)).Info("backend registered")
	return nil
}

// UnregisterBackend clears the backend binding of every core. Operations that
// need the hardware fail with ErrNoDevice until a backend is registered again.
func (s *Service) UnregisterBackend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cores {
		c.Detach()
	}
	s.backend = nil
	s.logger.Info("backend unregistered")
}

// Backend returns the registered backend, nil when none
func (s *Service) Backend() backend.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// Cores returns the cores in registration order
func (s *Service) Cores() []*core.Core {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*core.Core, len(s.cores))
	copy(ret, s.cores)
	return ret
}

// Core returns the core with the given hardware index
func (s *Service) Core(index int) (*core.Core, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cores {
		if c.Index == index {
			return c, nil
		}
	}
	return nil, fmt.Errorf("core %d: %w", index, errs.ErrInvalidArgument)
}

// Events returns the lifecycle event service
func (s *Service) Events() *event.Service {
	return s.events
}

// meters lists every meter subject to periodic decay
func (s *Service) meters() []*stats.Meter {
	var ret []*stats.Meter
	for _, c := range s.Cores() {
		ret = append(ret, c.Meter())
	}
	if list, err := s.sessions.List(context.Background()); err == nil {
		for _, item := range list {
			ret = append(ret, item.Meter())
		}
	}
	if list, err := s.groups.List(context.Background()); err == nil {
		for _, item := range list {
			ret = append(ret, item.Meter())
		}
	}
	return ret
}

// watched lists the cores under watchdog supervision
func (s *Service) watched() []recovery.Core {
	cores := s.Cores()
	ret := make([]recovery.Core, 0, len(cores))
	for _, c := range cores {
		ret = append(ret, c)
	}
	return ret
}

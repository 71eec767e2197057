package core

import (
	"context"
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/tracing"
	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/sirupsen/logrus"
)

// State is the hang recovery state of a core
type State int

const (
	StateHealthy State = iota
	StateSuspect
	StateRecovering
	StateFaulted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateSuspect:
		return "suspect"
	case StateRecovering:
		return "recovering"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

type recoveryState struct {
	state         State
	liveness      uint64
	stalls        int
	lastRecovery  time.Time
	resetFailures int
}

// State returns the recovery state
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery.state
}

// LastRecovery returns the time of the last successful recovery
func (c *Core) LastRecovery() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery.lastRecovery
}

// Watch is called on every watchdog tick. It wakes the worker, samples the
// liveness counter of a core with work in flight and reports whether the
// core needs a reset: the counter stood still for threshold consecutive
// polls, or a previous reset failed.
func (c *Core) Watch(ctx context.Context, threshold int) bool {
	c.Trigger()

	c.mu.Lock()
	if !c.enabled || c.recovery.state == StateRecovering {
		c.mu.Unlock()
		return false
	}
	if c.recovery.state == StateFaulted {
		c.mu.Unlock()
		return true
	}
	inFlight := c.occupancy()
	if inFlight == 0 {
		c.recovery.stalls = 0
		c.recovery.state = StateHealthy
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	be := c.backendRef()
	if be == nil {
		return false
	}
	liveness, err := be.Command(ctx, c.Index, backend.CommandLiveness)
	if err != nil {
		c.logger.WithError(err).Warn("liveness check failed")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recovery.state == StateRecovering || c.recovery.state == StateFaulted {
		return false
	}
	if liveness != c.recovery.liveness {
		c.recovery.liveness = liveness
		c.recovery.stalls = 0
		c.recovery.state = StateHealthy
		return false
	}
	c.recovery.stalls++
	if c.recovery.state == StateHealthy {
		c.recovery.state = StateSuspect
		c.logger.WithField("inFlight", inFlight).Info("core suspect")
		c.events.Emit(event.TypeCoreSuspect, c.Index, event.Notice{State: StateSuspect.String()})
	}
	if threshold < 1 {
		threshold = 1
	}
	return c.recovery.stalls >= threshold
}

// BeginRecovery quiesces the core and stops its in-flight task ahead of a
// reset. It fails with errs.ErrRecoveryCoolDown when the last recovery is
// more recent than coolDown, unless force is set.
func (c *Core) BeginRecovery(ctx context.Context, coolDown time.Duration, force bool) error {
	now := clock.Now()
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return fmt.Errorf("core %d is disabled: %w", c.Index, errs.ErrNoDevice)
	}
	if c.recovery.state == StateRecovering {
		c.mu.Unlock()
		return fmt.Errorf("core %d is already recovering: %w", c.Index, errs.ErrBusy)
	}
	last := c.recovery.lastRecovery
	if !force && !last.IsZero() && now.Sub(last) < coolDown {
		c.mu.Unlock()
		return fmt.Errorf("core %d recovered %v ago: %w", c.Index, now.Sub(last), errs.ErrRecoveryCoolDown)
	}
	previous := c.recovery.state
	c.recovery.state = StateRecovering
	c.pending = true
	canTerminate := c.capability.CanTerminate
	c.mu.Unlock()

	c.logger.WithField("state", previous.String()).Warn("core hang, recovering")
	if canTerminate && previous != StateFaulted {
		if be := c.backendRef(); be != nil {
			if _, err := be.Command(ctx, c.Index, backend.CommandTerminate); err != nil {
				c.logger.WithError(err).Warn("terminate failed")
			}
		}
	}
	return nil
}

// AbortRecovery hands a core whose recovery was begun but could not be
// scheduled back to the watchdog. The core stays quiesced in StateFaulted so
// the next watchdog tick starts the recovery again.
func (c *Core) AbortRecovery(cause error) {
	c.mu.Lock()
	if c.recovery.state != StateRecovering {
		c.mu.Unlock()
		return
	}
	c.recovery.state = StateFaulted
	c.mu.Unlock()
	c.logger.WithError(cause).Warn("recovery aborted")
}

// Recover resets the core and replays its run-queues with the original
// hardware ids, lowest level first so the highest level is written last.
// Tasks still being written are rewound to their first slice.
// Tasks of closed sessions are dropped from the run-queues instead of being
// replayed. On failure the core stays quiesced in StateFaulted; once
// maxFailures consecutive resets failed the core is shut down and every task
// it holds is failed back with errs.ErrNoDevice.
func (c *Core) Recover(ctx context.Context, maxFailures int) (err error) {
	ctx, span := tracing.StartSpan(ctx, "core.recover")
	span.WithCore(c.Index)
	defer func() { tracing.EndSpan(span, err) }()

	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.recovery.state != StateRecovering {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	be := c.backendRef()
	if be == nil {
		err = fmt.Errorf("core %d: %w", c.Index, errs.ErrNoDevice)
	} else {
		err = be.Reset(ctx, c.Index)
	}
	if err != nil {
		return c.resetFailed(ctx, err, maxFailures)
	}

	c.writeMu.Lock()
	stale := len(c.done.Drain())
	var replay, dropped []*task.Task
	c.mu.Lock()
	for level, queue := range c.runQueues {
		resident := tasksOf(queue)
		live := make([]*task.Task, 0, len(resident))
		for _, t := range resident {
			if t.OwnerAlive() {
				live = append(live, t)
				continue
			}
			dropped = append(dropped, t)
			c.buffered[level] -= t.Estimate
		}
		if len(live) != len(resident) {
			rebuild(queue, live)
		}
		if c.buffered[level] < 0 {
			c.buffered[level] = 0
		}
		replay = append(replay, live...)
	}
	// partly written tasks lost their slices in the reset and start over
	for _, held := range c.reserved {
		held.next = 0
	}
	c.mu.Unlock()
	if sched := c.Scheduler(); sched != nil {
		sched.Rewind()
	}

	for _, t := range replay {
		if wErr := c.rewrite(be, t); wErr != nil {
			c.logger.WithError(wErr).WithField("hwid", t.HardwareID).Warn("replay failed")
		}
	}
	c.writeMu.Unlock()

	for _, t := range dropped {
		c.Discard(t, errs.ErrSessionClosed)
	}

	c.mu.Lock()
	c.recovery.lastRecovery = clock.Now()
	c.recovery.state = StateHealthy
	c.recovery.stalls = 0
	c.recovery.resetFailures = 0
	c.pending = false
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"replayed": len(replay), "dropped": len(dropped), "stale": stale}).Info("core recovered")
	c.events.Emit(event.TypeCoreRecovered, c.Index, event.Notice{State: StateHealthy.String()})
	c.Trigger()
	return nil
}

// rebuild refills a run-queue with the given tasks, oldest first
func rebuild(queue *circularbuffer.Queue, live []*task.Task) {
	queue.Clear()
	for _, t := range live {
		queue.Enqueue(t)
	}
}

// rewrite writes every slice of a task again; caller holds writeMu
func (c *Core) rewrite(be backend.Backend, t *task.Task) error {
	for offset := 0; offset < t.Slices(); {
		written, err := be.WriteTask(c.Index, t, offset)
		if err != nil {
			return err
		}
		if written == 0 {
			return fmt.Errorf("core %d rejected replay of %s: %w", c.Index, t.ID, errs.ErrBusy)
		}
		offset += written
	}
	return nil
}

func (c *Core) resetFailed(ctx context.Context, cause error, maxFailures int) error {
	c.mu.Lock()
	c.recovery.state = StateFaulted
	c.recovery.resetFailures++
	failures := c.recovery.resetFailures
	c.mu.Unlock()

	c.logger.WithError(cause).WithField("failures", failures).Error("core reset failed")
	c.events.Emit(event.TypeCoreFaulted, c.Index, event.Notice{State: StateFaulted.String(), Error: cause.Error()})
	if maxFailures > 0 && failures >= maxFailures {
		c.shutdownFaulted(ctx)
	}
	return fmt.Errorf("core %d reset: %w", c.Index, cause)
}

// shutdownFaulted takes a core that cannot be reset out of service until an
// operator enables it again; caller holds ctrlMu
func (c *Core) shutdownFaulted(ctx context.Context) {
	c.writeMu.Lock()
	c.mu.Lock()
	c.enabled = false
	c.openCount = 0
	c.pending = false
	var failed []*task.Task
	for level, queue := range c.runQueues {
		failed = append(failed, tasksOf(queue)...)
		queue.Clear()
		c.buffered[level] = 0
	}
	clear(c.reserved)
	c.mu.Unlock()
	c.writeMu.Unlock()

	if sched := c.Scheduler(); sched != nil {
		sched.Exit(errs.ErrNoDevice)
	}
	if be := c.backendRef(); be != nil {
		if err := be.Disable(ctx, c.Index); err != nil {
			c.logger.WithError(err).Warn("disable of faulted core failed")
		}
	}
	for _, t := range failed {
		c.fail(t, errs.ErrNoDevice)
	}
	c.logger.WithField("failed", len(failed)).Error("core shut down")
	c.events.Emit(event.TypeCoreShutdown, c.Index, event.Notice{State: StateFaulted.String()})
}

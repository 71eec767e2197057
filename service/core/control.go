package core

import (
	"context"
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/tracing"
)

// Enable powers the core on. Calls are counted; only the first one reaches
// the backend.
func (c *Core) Enable(ctx context.Context) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.enabled {
		c.openCount++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	be := c.backendRef()
	sched := c.Scheduler()
	if be == nil || sched == nil {
		return fmt.Errorf("core %d has no backend: %w", c.Index, errs.ErrNoDevice)
	}
	if err := be.Enable(ctx, c.Index); err != nil {
		return fmt.Errorf("core %d enable: %w", c.Index, err)
	}
	c.done.Drain()

	now := clock.Now()
	c.mu.Lock()
	c.enabled = true
	c.openCount = 1
	c.pending = false
	c.recovery = recoveryState{lastRecovery: c.recovery.lastRecovery}
	c.mu.Unlock()
	c.meter.Reset(now)
	sched.Init()

	c.logger.Info("core enabled")
	c.events.Emit(event.TypeCoreEnabled, c.Index, event.Notice{State: StateHealthy.String()})
	return nil
}

// Disable releases one Enable. The last one quiesces the core, waits up to
// DisableTimeout for the run-queues to empty, fails buffered tasks back with
// errs.ErrNoDevice and powers the core off. Tasks still in the run-queues
// after the timeout are failed back with errs.ErrTimeout, which is returned;
// the core is left disabled either way.
func (c *Core) Disable(ctx context.Context) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return nil
	}
	if c.openCount > 1 {
		c.openCount--
		c.mu.Unlock()
		return nil
	}
	c.pending = true
	c.mu.Unlock()

	return c.powerOff(ctx)
}

// powerOff tears the core down; caller holds ctrlMu
func (c *Core) powerOff(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "core.disable")
	span.WithCore(c.Index)
	defer func() { tracing.EndSpan(span, err) }()

	idle := c.waitIdle(ctx, c.config.DisableTimeout)
	if sched := c.Scheduler(); sched != nil {
		sched.Exit(errs.ErrNoDevice)
	}
	if be := c.backendRef(); be != nil {
		if dErr := be.Disable(ctx, c.Index); dErr != nil {
			c.logger.WithError(dErr).Warn("backend disable failed")
		}
	}

	c.writeMu.Lock()
	c.mu.Lock()
	var remaining []*task.Task
	for level, queue := range c.runQueues {
		remaining = append(remaining, tasksOf(queue)...)
		queue.Clear()
		c.buffered[level] = 0
	}
	clear(c.reserved)
	c.enabled = false
	c.openCount = 0
	c.pending = false
	c.recovery.state = StateHealthy
	c.recovery.stalls = 0
	c.mu.Unlock()
	c.writeMu.Unlock()
	c.done.Drain()
	c.meter.Reset(clock.Now())

	for _, t := range remaining {
		c.fail(t, errs.ErrTimeout)
	}
	c.logger.WithField("abandoned", len(remaining)).Info("core disabled")
	c.events.Emit(event.TypeCoreDisabled, c.Index, event.Notice{})
	if !idle {
		return fmt.Errorf("core %d: %d tasks still in flight: %w", c.Index, len(remaining), errs.ErrTimeout)
	}
	return nil
}

// waitIdle waits until no task is in flight, waking the worker on every
// poll so completions keep being reconciled
func (c *Core) waitIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		if c.InFlight() == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		c.Trigger()
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Frequency returns the current operating point index
func (c *Core) Frequency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freqLevel
}

// SetFrequency moves the core to operating point level. The core is
// quiesced until in-flight tasks finish; voltage is raised before the clock
// and lowered after it.
func (c *Core) SetFrequency(ctx context.Context, level int) (err error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	points := c.capability.OperatingPoints
	current := c.freqLevel
	c.mu.Unlock()
	if level < 0 || level >= len(points) {
		return fmt.Errorf("core %d frequency level %d of %d: %w", c.Index, level, len(points), errs.ErrInvalidArgument)
	}
	if level == current {
		return nil
	}
	be := c.backendRef()
	if be == nil {
		return fmt.Errorf("core %d: %w", c.Index, errs.ErrNoDevice)
	}

	ctx, span := tracing.StartSpan(ctx, "core.setFrequency")
	span.WithCore(c.Index)
	defer func() { tracing.EndSpan(span, err) }()

	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()
	defer c.resume()

	if !c.waitIdle(ctx, c.config.DisableTimeout) {
		return fmt.Errorf("core %d frequency change: %w", c.Index, errs.ErrTimeout)
	}
	target := points[level]
	if level > current {
		if err = be.SetVoltage(ctx, c.Index, target.MicroVolts); err == nil {
			err = be.SetClock(ctx, c.Index, target.Hz)
		}
	} else {
		if err = be.SetClock(ctx, c.Index, target.Hz); err == nil {
			err = be.SetVoltage(ctx, c.Index, target.MicroVolts)
		}
	}
	if err != nil {
		return fmt.Errorf("core %d frequency level %d: %w", c.Index, level, err)
	}
	c.mu.Lock()
	c.freqLevel = level
	c.mu.Unlock()
	c.logger.WithField("level", level).Info("core frequency changed")
	return nil
}

// resume lifts a quiesce unless a recovery owns it
func (c *Core) resume() {
	c.mu.Lock()
	c.pending = c.recovery.state == StateRecovering || c.recovery.state == StateFaulted
	c.mu.Unlock()
	c.Trigger()
}

// SetTaskBufferLimit caps the tasks in flight on the core, 0 removes the cap
func (c *Core) SetTaskBufferLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("core %d task buffer limit %d: %w", c.Index, limit, errs.ErrInvalidArgument)
	}
	sched := c.Scheduler()
	if sched == nil {
		return fmt.Errorf("core %d: %w", c.Index, errs.ErrNoDevice)
	}
	sched.SetBufferLimit(limit)
	c.Trigger()
	return nil
}

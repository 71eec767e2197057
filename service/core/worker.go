package core

import (
	"context"
	"errors"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
)

// Start runs the deferred worker of the core. The worker reconciles
// completion reports and drains the software priority queue each time it is
// triggered; triggers that arrive while a pass runs coalesce into one more
// pass.
func (c *Core) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.workerWg.Add(1)
	go c.run(ctx)
}

func (c *Core) run(ctx context.Context) {
	defer c.workerWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			c.process()
		}
	}
}

// Trigger schedules a worker pass
func (c *Core) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// process runs one reconciliation and drain pass
func (c *Core) process() {
	c.reconcile()
	sched := c.Scheduler()
	if sched == nil {
		return
	}
	progressed, err := sched.Drain()
	if err != nil && !errors.Is(err, errs.ErrPending) && !errors.Is(err, errs.ErrNoDevice) {
		c.logger.WithError(err).Warn("drain failed")
	}
	if progressed {
		c.Trigger()
	}
}

// Stop stops the worker and waits for the current pass to finish
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.workerWg.Wait()
}

package core

import (
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
)

// Enqueue buffers a task in the software priority queue of the core
func (c *Core) Enqueue(t *task.Task) error {
	sched := c.Scheduler()
	if sched == nil {
		return fmt.Errorf("core %d has no backend: %w", c.Index, errs.ErrNoDevice)
	}
	c.mu.Lock()
	switch {
	case c.pending:
		c.mu.Unlock()
		return fmt.Errorf("core %d: %w", c.Index, errs.ErrPending)
	case !c.enabled:
		c.mu.Unlock()
		return fmt.Errorf("core %d is disabled: %w", c.Index, errs.ErrNoDevice)
	}
	c.mu.Unlock()
	t.RunCoreMask = 1 << uint(c.Index)
	if err := sched.Enqueue(t); err != nil {
		return fmt.Errorf("core %d: %w", c.Index, err)
	}
	return nil
}

// Submit writes slices of t, starting at slice offset, to the hardware and
// returns the number of slices written. The first write of a task assigns
// its hardware id. 0 slices with a nil error means the hardware queue, or the
// id window of the task's level, is full and the write should be retried
// after the next completion.
//
// Tasks of a closed session are discarded without touching the hardware and
// reported as fully written.
func (c *Core) Submit(t *task.Task, offset int) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return 0, errs.ErrPending
	}
	if !c.enabled {
		c.mu.Unlock()
		return 0, errs.ErrNoDevice
	}
	remaining := t.Slices() - offset
	if !t.OwnerAlive() {
		c.mu.Unlock()
		c.Discard(t, errs.ErrSessionClosed)
		return remaining, nil
	}
	level := t.Level(len(c.runQueues))
	held, reserved := c.reserved[t]
	switch {
	case t.FireAndForget:
	case reserved:
		if offset != held.next {
			// the hardware lost the earlier slices in a reset
			c.mu.Unlock()
			return 0, nil
		}
	case offset == 0:
		if c.occupancy() >= c.capability.TaskCapacity || c.levelOccupancy(level) >= c.window {
			c.mu.Unlock()
			return 0, nil
		}
		if t.HardwareID == 0 {
			c.counters[level] = c.space.Next(c.counters[level])
			t.HardwareID = c.capability.HardwareID(level, c.counters[level])
		}
		held = &reservation{level: level}
		c.reserved[t] = held
	}
	be := c.backendRef()
	if be == nil {
		c.mu.Unlock()
		return 0, errs.ErrNoDevice
	}
	if offset == 0 {
		t.StartAt = clock.Now()
	}
	c.mu.Unlock()

	written, err := be.WriteTask(c.Index, t, offset)
	if err != nil {
		return 0, fmt.Errorf("core %d write task %s: %w", c.Index, t.ID, err)
	}
	if written < remaining {
		if held != nil {
			c.mu.Lock()
			held.next = offset + written
			c.mu.Unlock()
		}
		return written, nil
	}

	if t.FireAndForget {
		t.EndAt = clock.Now()
		c.report(t, t.Result(c.Index, 0, nil), progress.Delta{Completed: 1, Running: -1})
		return written, nil
	}
	c.mu.Lock()
	delete(c.reserved, t)
	c.runQueues[level].Enqueue(t)
	c.buffered[level] += t.Estimate
	c.mu.Unlock()
	return written, nil
}

// Discard fails a task back to its owner, releasing its run-queue
// reservation
func (c *Core) Discard(t *task.Task, err error) {
	c.mu.Lock()
	delete(c.reserved, t)
	c.mu.Unlock()
	c.report(t, t.Result(c.Index, 0, err), progress.Delta{Discarded: 1, Running: -1})
}

// fail fails back a task that was resident in a run-queue
func (c *Core) fail(t *task.Task, err error) {
	t.EndAt = clock.Now()
	c.report(t, t.Result(c.Index, 0, err), progress.Delta{Failed: 1, Running: -1})
}

// report delivers a result and releases the task; no core lock may be held
func (c *Core) report(t *task.Task, result *session.Result, delta progress.Delta) {
	t.Clear()
	c.progress.Update(delta)
	if t.Owner != nil {
		t.Owner.Finish(result)
	}
}

// complete accounts the busy interval of a reconciled task to the core, its
// session and its group, and returns the charged interval
func (c *Core) complete(t *task.Task, now time.Time) time.Duration {
	t.EndAt = now
	busy := c.meter.Complete(t.StartAt, now)
	if busy > 0 {
		if t.Owner != nil {
			t.Owner.Meter().Add(busy)
		}
		if meter := t.Group.Meter(); meter != nil {
			meter.Add(busy)
		}
	}
	return busy
}

package core

import (
	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/sirupsen/logrus"
)

// Interrupt moves every pending completion report of the backend into the
// done ring and wakes the worker. It never blocks; reports that do not fit
// the ring are dropped and later recovered as lost reports.
func (c *Core) Interrupt() {
	be := c.backendRef()
	if be == nil {
		return
	}
	for {
		completion, ok, err := be.ReadCompletion(c.Index)
		if err != nil {
			c.logger.WithError(err).Warn("failed to read completion")
			break
		}
		if !ok {
			break
		}
		if !c.done.Offer(&completion) {
			c.logger.WithField("hwid", completion.ID).Warn("done ring full, completion dropped")
		}
	}
	c.Trigger()
}

type retired struct {
	task  *task.Task
	code  uint32
	lost  bool
	level int
}

// reconcile matches queued completion reports against the run-queue heads.
// It stops at the first report that cannot be matched; the remaining reports
// wait for the next pass.
func (c *Core) reconcile() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for {
		msg, ok := c.done.Poll()
		if !ok {
			return
		}
		_ = msg.Ack()
		if !c.reconcileOne(*msg.T()) {
			return
		}
	}
}

// reconcileOne retires the run-queue entries a report accounts for. A report
// matching the head retires the head. A report up to half the id space ahead
// of the head means the reports of the tasks before it were lost; those are
// retired as lost. A report behind the head, or one the run-queue holds no
// entry for, is an ordering glitch: the report is dropped and false returned.
func (c *Core) reconcileOne(completion backend.Completion) bool {
	now := clock.Now()
	var done []retired
	matched := false

	c.mu.Lock()
	level := c.capability.Level(completion.ID)
	if level < len(c.runQueues) {
		counter := c.capability.Counter(completion.ID)
		queue := c.runQueues[level]
		for bound := queue.Size(); bound > 0; bound-- {
			value, _ := queue.Peek()
			head := value.(*task.Task)
			distance := c.space.Distance(c.capability.Counter(head.HardwareID), counter)
			if distance >= c.space.Half() {
				break
			}
			queue.Dequeue()
			c.buffered[level] -= head.Estimate
			if c.buffered[level] < 0 {
				c.buffered[level] = 0
			}
			if distance == 0 {
				done = append(done, retired{task: head, code: completion.Error, level: level})
				matched = true
				break
			}
			done = append(done, retired{task: head, lost: true, level: level})
		}
	}
	c.mu.Unlock()

	for _, r := range done {
		c.complete(r.task, now)
		result := r.task.Result(c.Index, r.code, nil)
		result.Lost = r.lost
		delta := progress.Delta{Completed: 1, Running: -1}
		if r.lost {
			delta.Lost = 1
			c.lost.Add(1)
			c.logger.WithFields(logrus.Fields{"level": r.level, "hwid": r.task.HardwareID}).Debug("completion report lost")
			c.events.EmitTask(event.TypeTaskLost, c.Index, r.task.SessionID(), r.task.ID, event.Notice{HardwareID: r.task.HardwareID})
		} else if result.Err != nil {
			delta = progress.Delta{Failed: 1, Running: -1}
		}
		c.report(r.task, result, delta)
	}
	if !matched {
		c.glitch.Add(1)
		c.logger.WithFields(logrus.Fields{"level": level, "hwid": completion.ID}).Debug("completion out of order, report dropped")
	}
	return matched
}

// Package task defines the in-flight task record. A task is owned by exactly
// one queue at a time: the software priority queue of a core, then that
// core's run-queue, then the done report delivered to its session. Mutable
// fields are only touched by the current owner.
package task

import (
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/group"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
)

// Task represents one client job
type Task struct {
	ID       string
	Owner    *session.Session
	Group    *group.Group
	GroupID  uint32
	Priority int
	// CoreMask holds the eligible cores, RunCoreMask the assigned one
	CoreMask    uint64
	RunCoreMask uint64
	// HardwareID is assigned at first submission; 0 means none
	HardwareID    uint32
	SliceTotal    int
	Payload       []byte
	Estimate      time.Duration
	FireAndForget bool
	SubmittedAt   time.Time
	StartAt       time.Time
	EndAt         time.Time
}

// Slices returns the number of hardware submissions the task needs
func (t *Task) Slices() int {
	if t.SliceTotal < 1 {
		return 1
	}
	return t.SliceTotal
}

// SliceCount derives the slice total of a payload for the given slice size
func SliceCount(payloadSize, sliceSize int) int {
	if sliceSize <= 0 || payloadSize <= sliceSize {
		return 1
	}
	return (payloadSize + sliceSize - 1) / sliceSize
}

// OwnerAlive reports whether the owning session still accepts results
func (t *Task) OwnerAlive() bool {
	return t.Owner.Alive()
}

// SessionID returns the owning session id
func (t *Task) SessionID() string {
	if t.Owner == nil {
		return ""
	}
	return t.Owner.ID
}

// Level returns the priority level the task is queued at
func (t *Task) Level(levels int) int {
	if t.Priority >= levels {
		return levels - 1
	}
	return t.Priority
}

// Result builds the completion summary of the task
func (t *Task) Result(core int, hwError uint32, err error) *session.Result {
	if err == nil && hwError != 0 {
		err = fmt.Errorf("task %s hardware error %#x: %w", t.ID, hwError, errs.ErrHardware)
	}
	return &session.Result{
		TaskID:      t.ID,
		HardwareID:  t.HardwareID,
		Priority:    t.Priority,
		Core:        core,
		GroupID:     t.GroupID,
		HWError:     hwError,
		Err:         err,
		SubmittedAt: t.SubmittedAt,
		StartAt:     t.StartAt,
		EndAt:       t.EndAt,
	}
}

// Clear releases the payload once the task has been reported or discarded
func (t *Task) Clear() {
	t.Payload = nil
}

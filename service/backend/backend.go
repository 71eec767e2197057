// Package backend defines the contract between the scheduler and a hardware
// accelerator driver. Implementations must be safe for concurrent use; the
// core manager never holds one of its own locks while calling into them.
package backend

import (
	"context"

	"github.com/D-Robotics/x5-kernel-sub005/model/task"
)

// Command identifies an out-of-band request to a core
type Command int

const (
	// CommandLiveness returns a counter that advances while the core makes
	// progress
	CommandLiveness Command = iota + 1
	// CommandTerminate stops the in-flight task of a core
	CommandTerminate
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CommandLiveness:
		return "liveness"
	case CommandTerminate:
		return "terminate"
	}
	return "unknown"
}

// Completion is a raw completion report read from a core
type Completion struct {
	ID    uint32
	Error uint32
}

// Backend is the hardware driver of a pool of accelerator cores
type Backend interface {
	// Capability returns the hardware parameters of a core
	Capability(core int) Capability

	Enable(ctx context.Context, core int) error

	Disable(ctx context.Context, core int) error

	// Reset resets a hung core; it may block
	Reset(ctx context.Context, core int) error

	SetClock(ctx context.Context, core int, hz uint64) error

	SetVoltage(ctx context.Context, core int, microVolts int) error

	// WriteTask writes slices of t starting at slice offset and returns how
	// many slices were accepted. Zero with a nil error means the hardware
	// queue is momentarily full.
	WriteTask(core int, t *task.Task, offset int) (int, error)

	// ReadCompletion pops the next completion report; ok is false when none is
	// pending
	ReadCompletion(core int) (completion Completion, ok bool, err error)

	Command(ctx context.Context, core int, command Command) (uint64, error)
}

// InterruptSource is implemented by backends that signal completions
// asynchronously. The handler must not block.
type InterruptSource interface {
	SetInterruptHandler(core int, handler func())
}

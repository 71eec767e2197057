// Package sim provides an in-memory accelerator backend. Completions are
// produced explicitly (Complete, Inject) or by the Run loop, which makes the
// hardware side deterministic in tests and in the bpusim command.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
)

// Write records one accepted WriteTask call
type Write struct {
	TaskID     string
	HardwareID uint32
	Offset     int
	Slices     int
}

type coreState struct {
	enabled        bool
	hung           bool
	liveness       uint64
	queue          []uint32
	partial        map[uint32]int
	completions    []backend.Completion
	writes         []Write
	resets         int
	failResets     int
	terminated     int
	slicesPerWrite int
	hz             uint64
	microVolts     int
	handler        func()
}

// Backend is a simulated pool of cores sharing one capability
type Backend struct {
	mu         sync.Mutex
	capability backend.Capability
	cores      []*coreState
}

// New creates a simulated backend with the given number of cores
func New(capability backend.Capability, cores int) *Backend {
	ret := &Backend{capability: capability}
	for i := 0; i < cores; i++ {
		ret.cores = append(ret.cores, &coreState{partial: make(map[uint32]int)})
	}
	return ret
}

func (b *Backend) core(index int) (*coreState, error) {
	if index < 0 || index >= len(b.cores) {
		return nil, fmt.Errorf("sim: core %d: %w", index, errs.ErrNoDevice)
	}
	return b.cores[index], nil
}

// Capability returns the shared capability
func (b *Backend) Capability(int) backend.Capability {
	return b.capability
}

// Enable powers a core on
func (b *Backend) Enable(_ context.Context, core int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return err
	}
	state.enabled = true
	return nil
}

// Disable powers a core off and drops its hardware queue
func (b *Backend) Disable(_ context.Context, core int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return err
	}
	state.enabled = false
	state.queue = nil
	clear(state.partial)
	state.completions = nil
	return nil
}

// Reset clears the hang flag and the hardware queue unless a reset failure
// was scheduled with FailReset
func (b *Backend) Reset(_ context.Context, core int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return err
	}
	if state.failResets > 0 {
		state.failResets--
		return fmt.Errorf("sim: core %d reset failed: %w", core, errs.ErrHardware)
	}
	state.resets++
	state.hung = false
	state.queue = nil
	clear(state.partial)
	state.completions = nil
	return nil
}

// SetClock sets the core clock
func (b *Backend) SetClock(_ context.Context, core int, hz uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return err
	}
	state.hz = hz
	return nil
}

// SetVoltage sets the core supply voltage
func (b *Backend) SetVoltage(_ context.Context, core int, microVolts int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return err
	}
	state.microVolts = microVolts
	return nil
}

// WriteTask accepts up to SetSlicesPerWrite slices. A task enters the
// hardware queue once its last slice is written; a task being written holds
// a queue slot. Slices must follow each other: a write that does not resume
// where the previous one of the same hardware id stopped fails with
// errs.ErrHardware.
func (b *Backend) WriteTask(core int, t *task.Task, offset int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return 0, err
	}
	if !state.enabled {
		return 0, fmt.Errorf("sim: core %d is disabled: %w", core, errs.ErrNoDevice)
	}
	tracked := !t.FireAndForget
	if offset == 0 {
		if tracked && len(state.queue)+len(state.partial) >= b.capability.TaskCapacity {
			return 0, nil
		}
	} else if next, ok := state.partial[t.HardwareID]; tracked && (!ok || next != offset) {
		return 0, fmt.Errorf("sim: core %d task %d written at slice %d out of sequence: %w", core, t.HardwareID, offset, errs.ErrHardware)
	}
	remaining := t.Slices() - offset
	n := remaining
	if state.slicesPerWrite > 0 && n > state.slicesPerWrite {
		n = state.slicesPerWrite
	}
	state.writes = append(state.writes, Write{TaskID: t.ID, HardwareID: t.HardwareID, Offset: offset, Slices: n})
	if !tracked {
		return n, nil
	}
	if n < remaining {
		state.partial[t.HardwareID] = offset + n
		return n, nil
	}
	delete(state.partial, t.HardwareID)
	state.queue = append(state.queue, t.HardwareID)
	return n, nil
}

// ReadCompletion pops the next completion report
func (b *Backend) ReadCompletion(core int) (backend.Completion, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return backend.Completion{}, false, err
	}
	if len(state.completions) == 0 {
		return backend.Completion{}, false, nil
	}
	ret := state.completions[0]
	state.completions = state.completions[1:]
	return ret, true, nil
}

// Command handles liveness and terminate requests
func (b *Backend) Command(_ context.Context, core int, command backend.Command) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return 0, err
	}
	switch command {
	case backend.CommandLiveness:
		return state.liveness, nil
	case backend.CommandTerminate:
		state.terminated++
		return 0, nil
	}
	return 0, fmt.Errorf("sim: command %v: %w", command, errs.ErrInvalidArgument)
}

// SetInterruptHandler installs the completion handler of a core
func (b *Backend) SetInterruptHandler(core int, handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, err := b.core(core); err == nil {
		state.handler = handler
	}
}

func (b *Backend) raise(core int) {
	b.mu.Lock()
	var handler func()
	if state, err := b.core(core); err == nil {
		handler = state.handler
	}
	b.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// Complete finishes up to n of the oldest queued tasks of a core with the
// given error code and raises the interrupt. Hung cores complete nothing.
func (b *Backend) Complete(core, n int, code uint32) int {
	b.mu.Lock()
	state, err := b.core(core)
	if err != nil || state.hung {
		b.mu.Unlock()
		return 0
	}
	count := 0
	for ; count < n && len(state.queue) > 0; count++ {
		state.completions = append(state.completions, backend.Completion{ID: state.queue[0], Error: code})
		state.queue = state.queue[1:]
		state.liveness++
	}
	b.mu.Unlock()
	if count > 0 {
		b.raise(core)
	}
	return count
}

// Drop retires the oldest queued task without producing a completion report
func (b *Backend) Drop(core int) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil || len(state.queue) == 0 {
		return 0, false
	}
	id := state.queue[0]
	state.queue = state.queue[1:]
	state.liveness++
	return id, true
}

// Inject appends raw completion reports and raises the interrupt
func (b *Backend) Inject(core int, completions ...backend.Completion) {
	b.mu.Lock()
	if state, err := b.core(core); err == nil {
		state.completions = append(state.completions, completions...)
	}
	b.mu.Unlock()
	b.raise(core)
}

// SetHung freezes or unfreezes a core
func (b *Backend) SetHung(core int, hung bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, err := b.core(core); err == nil {
		state.hung = hung
	}
}

// FailReset makes the next n resets of a core fail
func (b *Backend) FailReset(core, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, err := b.core(core); err == nil {
		state.failResets = n
	}
}

// SetSlicesPerWrite limits how many slices a single write accepts, 0 means
// no limit
func (b *Backend) SetSlicesPerWrite(core, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, err := b.core(core); err == nil {
		state.slicesPerWrite = n
	}
}

// Written returns the write log of a core
func (b *Backend) Written(core int) []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return nil
	}
	return append([]Write(nil), state.writes...)
}

// Queued returns the hardware ids queued on a core, oldest first
func (b *Backend) Queued(core int) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return nil
	}
	return append([]uint32(nil), state.queue...)
}

// Resets returns the number of successful resets of a core
func (b *Backend) Resets(core int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return 0
	}
	return state.resets
}

// Terminated returns the number of terminate commands a core received
func (b *Backend) Terminated(core int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return 0
	}
	return state.terminated
}

// Enabled reports whether a core is powered
func (b *Backend) Enabled(core int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	return err == nil && state.enabled
}

// OperatingPoint returns the clock and voltage last set on a core
func (b *Backend) OperatingPoint(core int) backend.OperatingPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, err := b.core(core)
	if err != nil {
		return backend.OperatingPoint{}
	}
	return backend.OperatingPoint{Hz: state.hz, MicroVolts: state.microVolts}
}

// Run completes one queued task per core every interval until ctx is done
func (b *Backend) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := range b.cores {
				b.Complete(i, 1, 0)
			}
		}
	}
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.InterruptSource = (*Backend)(nil)

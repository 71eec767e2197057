package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend/sim"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCapability() backend.Capability {
	return backend.Capability{
		PriorityLevels: 2,
		PrioBitOffset:  8,
		TaskIDMax:      8,
		TaskCapacity:   4,
		CanTerminate:   true,
		OperatingPoints: []backend.OperatingPoint{
			{Hz: 200, MicroVolts: 600},
			{Hz: 400, MicroVolts: 700},
			{Hz: 800, MicroVolts: 800},
		},
	}
}

func newTestCore(t *testing.T, be backend.Backend, options ...Option) *Core {
	c := New(0, options...)
	require.NoError(t, c.Attach(be))
	require.NoError(t, c.Enable(context.Background()))
	return c
}

func newSession(id string) *session.Session {
	return session.New(id, session.DefaultConfig(), time.Now(), nil)
}

func newTask(t *testing.T, owner *session.Session, id string, priority int) *task.Task {
	require.NoError(t, owner.Acquire())
	return &task.Task{ID: id, Owner: owner, Priority: priority, Estimate: time.Millisecond}
}

// pump runs worker passes until the worker stops re-arming itself
func pump(c *Core) {
	for i := 0; i < 1000; i++ {
		c.process()
		select {
		case <-c.trigger:
		default:
			return
		}
	}
}

func taskIDs(results []*session.Result) []string {
	var ret []string
	for _, r := range results {
		ret = append(ret, r.TaskID)
	}
	return ret
}

func TestCore_CapacityAndWindow(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("high%d", i), 1)))
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("low%d", i), 0)))
	}
	pump(c)

	assert.Len(t, c.RunQueue(1), 3, "level window is TaskIDMax/2-1")
	assert.Len(t, c.RunQueue(0), 1, "total occupancy is bounded by the capacity")
	assert.Equal(t, 4, c.InFlight())
	assert.Equal(t, 0, c.FreeSlots(0))
	assert.Equal(t, []uint32{0x101, 0x102, 0x103, 0x001}, b.Queued(0))
	assert.Equal(t, 2, c.Scheduler().Queued())
}

// Hardware ids resident at the same time stay unique while the counter wraps.
func TestCore_HardwareIDWraparound(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("t%02d", i), 0)))
	}
	pump(c)

	var issued []uint32
	seen := map[string]bool{}
	for step := 0; step < 100 && c.InFlight() > 0; step++ {
		resident := map[uint32]bool{}
		for _, tk := range c.RunQueue(0) {
			assert.False(t, resident[tk.HardwareID], "duplicate resident id %d", tk.HardwareID)
			resident[tk.HardwareID] = true
			if !seen[tk.ID] {
				seen[tk.ID] = true
				issued = append(issued, tk.HardwareID)
			}
		}
		assert.LessOrEqual(t, c.InFlight(), 3)
		b.Complete(0, 1, 0)
		pump(c)
	}

	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4}, issued)
	results := s.Poll(0)
	require.Len(t, results, total)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("t%02d", i), r.TaskID, "per level completion order")
		assert.NoError(t, r.Err)
		assert.False(t, r.Lost)
	}
	assert.Equal(t, 0, s.Running())
}

// With an id space of 8 and a run-queue head of 6, a report of 5 is dropped
// as a glitch and a report of 7 retires 6 as lost and 7 as matched.
func TestCore_ReconcileLostAndGlitch(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")

	c.mu.Lock()
	c.counters[0] = 5
	c.mu.Unlock()
	require.NoError(t, c.Enqueue(newTask(t, s, "six", 0)))
	require.NoError(t, c.Enqueue(newTask(t, s, "seven", 0)))
	pump(c)
	require.Equal(t, []uint32{6, 7}, b.Queued(0))

	b.Inject(0, backend.Completion{ID: 5})
	pump(c)
	assert.EqualValues(t, 1, c.Glitches())
	assert.Len(t, c.RunQueue(0), 2)
	assert.Empty(t, s.Poll(0))

	b.Inject(0, backend.Completion{ID: 7, Error: 3})
	pump(c)
	assert.Empty(t, c.RunQueue(0))
	results := s.Poll(0)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"six", "seven"}, taskIDs(results))
	assert.True(t, results[0].Lost)
	assert.NoError(t, results[0].Err)
	assert.False(t, results[1].Lost)
	assert.EqualValues(t, 3, results[1].HWError)
	assert.ErrorIs(t, results[1].Err, errs.ErrHardware)
	assert.EqualValues(t, 1, c.LostReports())
}

func TestCore_SlicedTask(t *testing.T) {
	b := sim.New(testCapability(), 1)
	b.SetSlicesPerWrite(0, 1)
	c := newTestCore(t, b)
	s := newSession("s")
	tk := newTask(t, s, "sliced", 0)
	tk.SliceTotal = 4
	require.NoError(t, c.Enqueue(tk))

	var left []int
	for i := 0; i < 4; i++ {
		c.process()
		left = append(left, c.Scheduler().Left(0))
	}
	assert.Equal(t, []int{3, 2, 1, 0}, left)
	var offsets []int
	for _, w := range b.Written(0) {
		offsets = append(offsets, w.Offset)
		assert.EqualValues(t, 1, w.HardwareID)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, offsets)
	assert.Equal(t, []*task.Task{tk}, c.RunQueue(0))
}

func TestCore_DeadOwnerDiscarded(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	released := false
	s := session.New("s", session.DefaultConfig(), time.Now(), func(*session.Session) { released = true })
	require.NoError(t, c.Enqueue(newTask(t, s, "orphan", 0)))
	s.Close()
	assert.False(t, released)

	pump(c)
	assert.Empty(t, b.Written(0))
	assert.Equal(t, 0, c.InFlight())
	assert.True(t, released)
}

func TestCore_FireAndForget(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")
	tk := newTask(t, s, "faf", 1)
	tk.FireAndForget = true
	require.NoError(t, c.Enqueue(tk))
	pump(c)

	assert.Len(t, b.Written(0), 1)
	assert.Empty(t, b.Queued(0))
	assert.Equal(t, 0, c.InFlight())
	results := s.Poll(0)
	require.Len(t, results, 1)
	assert.EqualValues(t, 0, results[0].HardwareID)
	assert.NoError(t, results[0].Err)
}

// Tasks resident at the time of a hang keep their handles and hardware ids
// after recovery, except those of closed sessions.
func TestCore_RecoveryReplay(t *testing.T) {
	ctx := context.Background()
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	live := newSession("live")
	gone := newSession("gone")

	t1 := newTask(t, live, "t1", 0)
	t2 := newTask(t, gone, "t2", 0)
	t3 := newTask(t, live, "t3", 0)
	t4 := newTask(t, live, "t4", 1)
	for _, tk := range []*task.Task{t1, t2, t3, t4} {
		require.NoError(t, c.Enqueue(tk))
	}
	pump(c)
	require.Equal(t, 4, c.InFlight())
	b.SetHung(0, true)
	gone.Close()

	assert.False(t, c.Watch(ctx, 2))
	assert.Equal(t, StateSuspect, c.State())
	assert.True(t, c.Watch(ctx, 2))

	require.NoError(t, c.BeginRecovery(ctx, time.Minute, false))
	assert.True(t, c.Pending())
	assert.Equal(t, StateRecovering, c.State())
	assert.Equal(t, 1, b.Terminated(0))
	_, err := c.Submit(newTask(t, live, "late", 0), 0)
	assert.ErrorIs(t, err, errs.ErrPending)

	require.NoError(t, c.Recover(ctx, 3))
	assert.Equal(t, StateHealthy, c.State())
	assert.False(t, c.Pending())
	assert.Equal(t, 1, b.Resets(0))
	assert.Equal(t, []*task.Task{t1, t3}, c.RunQueue(0))
	assert.Equal(t, []*task.Task{t4}, c.RunQueue(1))
	assert.Equal(t, []uint32{1, 3, 0x101}, b.Queued(0), "lowest level replayed first, same ids")
	assert.True(t, gone.Released())

	err = c.BeginRecovery(ctx, time.Minute, false)
	assert.ErrorIs(t, err, errs.ErrRecoveryCoolDown)

	b.Complete(0, 3, 0)
	pump(c)
	assert.Equal(t, []string{"t1", "t3", "t4"}, taskIDs(live.Poll(0)))
}

func TestCore_ResetFailureShutdown(t *testing.T) {
	ctx := context.Background()
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("t%d", i), 0)))
	}
	pump(c)
	require.Equal(t, 3, c.InFlight())
	b.FailReset(0, 2)

	require.NoError(t, c.BeginRecovery(ctx, 0, false))
	assert.ErrorIs(t, c.Recover(ctx, 2), errs.ErrHardware)
	assert.Equal(t, StateFaulted, c.State())
	assert.True(t, c.Pending(), "a faulted core stays quiesced")
	assert.True(t, c.Enabled())

	assert.True(t, c.Watch(ctx, 2))
	require.NoError(t, c.BeginRecovery(ctx, 0, false))
	assert.Error(t, c.Recover(ctx, 2))
	assert.False(t, c.Enabled())
	assert.False(t, b.Enabled(0))
	assert.Equal(t, 0, c.InFlight())

	results := s.Poll(0)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, errs.ErrNoDevice)
	}
	assert.Equal(t, 0, s.Running())

	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, StateHealthy, c.State())
}

func TestCore_DisableTimeout(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b, WithConfig(Config{DisableTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond}))
	s := newSession("s")
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("t%d", i), 0)))
	}
	pump(c)

	err := c.Disable(context.Background())
	assert.ErrorIs(t, err, errs.ErrTimeout)
	assert.False(t, c.Enabled())
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, time.Duration(0), c.Buffered(0))

	var timedOut, discarded int
	for _, r := range s.Poll(0) {
		switch {
		case errors.Is(r.Err, errs.ErrTimeout):
			timedOut++
		case errors.Is(r.Err, errs.ErrNoDevice):
			discarded++
		}
	}
	assert.Equal(t, 3, timedOut)
	assert.Equal(t, 1, discarded)
	assert.ErrorIs(t, c.Enqueue(newTask(t, s, "after", 0)), errs.ErrNoDevice)
}

func TestCore_EnableDisableRefcount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b, WithConfig(Config{DisableTimeout: time.Second, PollInterval: time.Millisecond}))
	c.Start(ctx)
	defer c.Stop()
	go b.Run(ctx, time.Millisecond)

	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, 2, c.OpenCount())

	s := newSession("s")
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("t%d", i), i%2)))
	}
	assert.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, c.Disable(ctx))
	assert.True(t, c.Enabled())
	require.NoError(t, c.Disable(ctx))
	assert.False(t, c.Enabled())
	assert.Len(t, s.Poll(0), 5)
	assert.True(t, c.LastCompletion().After(time.Time{}))
}

func TestCore_NoBackend(t *testing.T) {
	c := New(0)
	assert.ErrorIs(t, c.Enable(context.Background()), errs.ErrNoDevice)
	assert.ErrorIs(t, c.Enqueue(&task.Task{}), errs.ErrNoDevice)

	b := sim.New(testCapability(), 1)
	require.NoError(t, c.Attach(b))
	require.NoError(t, c.Enable(context.Background()))
	c.Detach()
	assert.False(t, c.HasBackend())
	s := newSession("s")
	_, err := c.Submit(newTask(t, s, "t", 0), 0)
	assert.ErrorIs(t, err, errs.ErrNoDevice)

	bad := testCapability()
	bad.PriorityLevels = 3
	assert.ErrorIs(t, c.Attach(sim.New(bad, 1)), errs.ErrInvalidArgument)
}

type recordingBackend struct {
	*sim.Backend
	mu    sync.Mutex
	calls []string
}

func (r *recordingBackend) SetClock(ctx context.Context, core int, hz uint64) error {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("clock:%d", hz))
	r.mu.Unlock()
	return r.Backend.SetClock(ctx, core, hz)
}

func (r *recordingBackend) SetVoltage(ctx context.Context, core int, microVolts int) error {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("voltage:%d", microVolts))
	r.mu.Unlock()
	return r.Backend.SetVoltage(ctx, core, microVolts)
}

func TestCore_SetFrequency(t *testing.T) {
	ctx := context.Background()
	b := &recordingBackend{Backend: sim.New(testCapability(), 1)}
	c := newTestCore(t, b)
	assert.Equal(t, 2, c.Frequency())

	require.NoError(t, c.SetFrequency(ctx, 0))
	require.NoError(t, c.SetFrequency(ctx, 1))
	assert.Equal(t, 1, c.Frequency())
	assert.Equal(t, []string{"clock:200", "voltage:600", "voltage:700", "clock:400"}, b.calls)
	assert.Equal(t, backend.OperatingPoint{Hz: 400, MicroVolts: 700}, b.OperatingPoint(0))
	assert.False(t, c.Pending())

	assert.ErrorIs(t, c.SetFrequency(ctx, 3), errs.ErrInvalidArgument)
}

func TestCore_BufferedAndLimit(t *testing.T) {
	b := sim.New(testCapability(), 1)
	c := newTestCore(t, b)
	s := newSession("s")
	require.NoError(t, c.SetTaskBufferLimit(1))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Enqueue(newTask(t, s, fmt.Sprintf("t%d", i), 1)))
	}
	pump(c)
	assert.Equal(t, 1, c.InFlight())
	assert.Equal(t, 3*time.Millisecond, c.Buffered(0))
	assert.Equal(t, 3*time.Millisecond, c.Buffered(1))

	require.NoError(t, c.SetTaskBufferLimit(0))
	pump(c)
	assert.Equal(t, 3, c.InFlight())
	assert.ErrorIs(t, c.SetTaskBufferLimit(-1), errs.ErrInvalidArgument)
}

// A partly written task holds its run-queue slot: a higher level task waits
// for it instead of pushing the core past its capacity.
func TestCore_PartialWriteHoldsSlot(t *testing.T) {
	capability := testCapability()
	capability.TaskCapacity = 1
	b := sim.New(capability, 1)
	b.SetSlicesPerWrite(0, 1)
	c := newTestCore(t, b)
	s := newSession("s")

	low := newTask(t, s, "low", 0)
	low.SliceTotal = 2
	require.NoError(t, c.Enqueue(low))
	c.process()
	assert.Equal(t, 1, c.InFlight())
	assert.Equal(t, 0, c.FreeSlots(1))

	high := newTask(t, s, "high", 1)
	written, err := c.Submit(high, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, written, "the reserved slot is not handed out")

	require.NoError(t, c.Enqueue(high))
	pump(c)
	assert.Equal(t, []*task.Task{low}, c.RunQueue(0))
	assert.Empty(t, c.RunQueue(1))
	assert.Equal(t, 1, c.InFlight())
	assert.Equal(t, []uint32{1}, b.Queued(0))
	assert.Equal(t, 1, c.Scheduler().Queued())

	b.Complete(0, 1, 0)
	pump(c)
	assert.Equal(t, []*task.Task{high}, c.RunQueue(1))
	assert.Equal(t, []uint32{0x101}, b.Queued(0))
	assert.LessOrEqual(t, c.InFlight(), capability.TaskCapacity)
}

// A task caught half written by a reset is written again from its first
// slice with the same hardware id.
func TestCore_PartialWriteRewoundByReset(t *testing.T) {
	ctx := context.Background()
	b := sim.New(testCapability(), 1)
	b.SetSlicesPerWrite(0, 1)
	c := newTestCore(t, b)
	s := newSession("s")

	tk := newTask(t, s, "multi", 0)
	tk.SliceTotal = 2
	require.NoError(t, c.Enqueue(tk))
	c.process()
	require.Len(t, b.Written(0), 1)

	require.NoError(t, c.BeginRecovery(ctx, 0, true))
	require.NoError(t, c.Recover(ctx, 3))
	assert.Equal(t, 2, c.Scheduler().Left(0))
	pump(c)

	after := b.Written(0)[1:]
	require.Len(t, after, 2)
	for i, w := range after {
		assert.Equal(t, "multi", w.TaskID)
		assert.EqualValues(t, 1, w.HardwareID)
		assert.Equal(t, i, w.Offset)
	}
	assert.Equal(t, []uint32{1}, b.Queued(0))
	assert.Equal(t, []*task.Task{tk}, c.RunQueue(0))
	assert.Equal(t, 1, c.InFlight())

	b.Complete(0, 1, 0)
	pump(c)
	results := s.Poll(0)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

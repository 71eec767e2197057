package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend/sim"
	"github.com/D-Robotics/x5-kernel-sub005/service/core"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	mu        sync.Mutex
	hung      bool
	beginErr  error
	begun     []bool
	recovered int
	aborted   []error
}

func (f *fakeCore) Watch(context.Context, int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hung
}

func (f *fakeCore) BeginRecovery(_ context.Context, _ time.Duration, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, force)
	return f.beginErr
}

func (f *fakeCore) Recover(context.Context, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	f.hung = false
	return nil
}

func (f *fakeCore) AbortRecovery(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, cause)
}

func (f *fakeCore) recoveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recovered
}

func newService(cores ...Core) *Service {
	return New(func() []Core { return cores }, Config{WatchdogInterval: time.Hour, CoolDown: time.Minute, HangThreshold: 2}, nil)
}

func TestService_Tick(t *testing.T) {
	healthy := &fakeCore{}
	hung := &fakeCore{hung: true}
	coolingDown := &fakeCore{hung: true, beginErr: errs.ErrRecoveryCoolDown}
	srv := newService(healthy, hung, coolingDown)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	srv.Tick(context.Background())
	assert.Eventually(t, func() bool { return hung.recoveries() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, healthy.begun)
	assert.Equal(t, []bool{false}, coolingDown.begun)
	assert.Equal(t, 0, coolingDown.recoveries())
}

func TestService_ResetForces(t *testing.T) {
	c := &fakeCore{}
	srv := newService(c)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	require.NoError(t, srv.Reset(context.Background(), c))
	assert.Equal(t, []bool{true}, c.begun)
	assert.Equal(t, 1, c.recoveries())

	c.beginErr = errors.New("boom")
	assert.Error(t, srv.Reset(context.Background(), c))
}

// A hung core is detected after two polls without progress, reset by the
// executor and its in-flight tasks replayed.
func TestService_RecoversHungCore(t *testing.T) {
	ctx := context.Background()
	b := sim.New(backend.Capability{PriorityLevels: 1, PrioBitOffset: 8, TaskIDMax: 16, TaskCapacity: 4}, 1)
	c := core.New(0)
	require.NoError(t, c.Attach(b))
	require.NoError(t, c.Enable(ctx))
	c.Start(ctx)
	defer c.Stop()

	owner := session.New("s", session.DefaultConfig(), time.Now(), nil)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, owner.Acquire())
		require.NoError(t, c.Enqueue(&task.Task{ID: id, Owner: owner}))
	}
	assert.Eventually(t, func() bool { return c.InFlight() == 2 }, time.Second, time.Millisecond)
	b.SetHung(0, true)

	srv := newService(c)
	require.NoError(t, srv.Start(ctx))
	defer srv.Shutdown()
	srv.Tick(ctx)
	assert.Equal(t, core.StateSuspect, c.State())
	srv.Tick(ctx)

	assert.Eventually(t, func() bool { return b.Resets(0) == 1 && c.State() == core.StateHealthy }, time.Second, time.Millisecond)
	assert.Equal(t, []uint32{1, 2}, b.Queued(0))
	assert.Equal(t, 2, c.InFlight())

	b.Complete(0, 2, 0)
	assert.Eventually(t, func() bool { return owner.Running() == 0 }, time.Second, time.Millisecond)
	assert.Len(t, owner.Poll(0), 2)
}

func TestService_TickAbortsUnqueuedRecovery(t *testing.T) {
	hung := &fakeCore{hung: true}
	srv := newService(hung)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv.Tick(ctx)
	assert.Equal(t, []bool{false}, hung.begun)
	require.Len(t, hung.aborted, 1)
	assert.ErrorIs(t, hung.aborted[0], context.Canceled)
	assert.Equal(t, 0, hung.recoveries())
}

// A core whose recovery could not be queued is picked up again by the next
// watchdog tick.
func TestService_AbortedRecoveryRetried(t *testing.T) {
	b := sim.New(backend.Capability{PriorityLevels: 1, PrioBitOffset: 8, TaskIDMax: 16, TaskCapacity: 4}, 1)
	c := core.New(0)
	require.NoError(t, c.Attach(b))
	require.NoError(t, c.Enable(context.Background()))
	owner := session.New("s", session.DefaultConfig(), time.Now(), nil)
	require.NoError(t, owner.Acquire())
	_, err := c.Submit(&task.Task{ID: "a", Owner: owner}, 0)
	require.NoError(t, err)
	b.SetHung(0, true)

	srv := New(func() []Core { return []Core{c} }, Config{WatchdogInterval: time.Hour, HangThreshold: 1}, nil)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	srv.Tick(canceled)
	assert.Equal(t, core.StateFaulted, c.State())
	assert.True(t, c.Pending())

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()
	srv.Tick(context.Background())
	assert.Eventually(t, func() bool { return b.Resets(0) == 1 && c.State() == core.StateHealthy }, time.Second, time.Millisecond)
	assert.False(t, c.Pending())
	assert.Equal(t, []uint32{1}, b.Queued(0))
}

// Package core manages a single accelerator core: power state, the hardware
// run-queues of submitted tasks, hardware id allocation, completion
// reconciliation and the hang recovery state machine.
//
// Lock order: ctrlMu, then writeMu, then mu. hwMu is a leaf lock that only
// guards the backend reference; it is never held while calling the backend.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/internal/seqnum"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/D-Robotics/x5-kernel-sub005/service/scheduler"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/D-Robotics/x5-kernel-sub005/service/stats"
	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/sirupsen/logrus"
)

// Core is one accelerator core
type Core struct {
	Index       int
	hotplug     bool
	config      Config
	schedConfig scheduler.Config
	logger      logrus.FieldLogger
	events      *event.Service
	progress    *progress.Progress

	ctrlMu  sync.Mutex
	writeMu sync.Mutex
	mu      sync.Mutex
	hwMu    sync.RWMutex

	backend backend.Backend

	// guarded by mu
	capability backend.Capability
	space      seqnum.Space
	window     int
	counters   []uint32
	runQueues  []*circularbuffer.Queue
	buffered   []time.Duration
	enabled    bool
	openCount  int
	pending    bool
	freqLevel  int
	sessions   map[string]*session.Session
	recovery   recoveryState
	reserved   map[*task.Task]*reservation

	sched   atomic.Pointer[scheduler.PrioQueue]
	meter   *stats.Meter
	done    *memory.Queue[backend.Completion]
	trigger chan struct{}
	glitch  atomic.Int64
	lost    atomic.Int64

	workerWg sync.WaitGroup
	cancel   func()
}

// New creates a core. A backend has to be attached before it can be enabled.
func New(index int, options ...Option) *Core {
	ret := &Core{
		Index:       index,
		config:      DefaultConfig(),
		schedConfig: scheduler.DefaultConfig(),
		logger:      logrus.StandardLogger(),
		sessions:    make(map[string]*session.Session),
		reserved:    make(map[*task.Task]*reservation),
		meter:       stats.NewMeter(clock.Now()),
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.config.DoneQueueDepth <= 0 {
		ret.config.DoneQueueDepth = DefaultConfig().DoneQueueDepth
	}
	if ret.config.PollInterval <= 0 {
		ret.config.PollInterval = DefaultConfig().PollInterval
	}
	ret.logger = ret.logger.WithField("core", index)
	ret.done = memory.NewQueue[backend.Completion](memory.Config{QueueBuffer: ret.config.DoneQueueDepth})
	return ret
}

// Attach binds a backend to the core. The first attach sizes the run-queues
// and the software priority queue from the backend capability; later
// attaches must report the same number of priority levels.
func (c *Core) Attach(be backend.Backend) error {
	if be == nil {
		return fmt.Errorf("core %d: %w", c.Index, errs.ErrNoDevice)
	}
	capability := be.Capability(c.Index)
	if err := capability.Validate(); err != nil {
		return fmt.Errorf("core %d capability: %v: %w", c.Index, err, errs.ErrInvalidArgument)
	}
	space, err := seqnum.New(capability.TaskIDMax)
	if err != nil {
		return fmt.Errorf("core %d: %v: %w", c.Index, err, errs.ErrInvalidArgument)
	}

	c.mu.Lock()
	if len(c.runQueues) == 0 {
		c.configure(capability, space)
	} else if len(c.runQueues) != capability.PriorityLevels {
		c.mu.Unlock()
		return fmt.Errorf("core %d: backend reports %d priority levels, core has %d: %w",
			c.Index, capability.PriorityLevels, len(c.runQueues), errs.ErrInvalidArgument)
	} else {
		c.capability = capability
		c.space = space
	}
	c.mu.Unlock()

	c.hwMu.Lock()
	c.backend = be
	c.hwMu.Unlock()

	if source, ok := be.(backend.InterruptSource); ok {
		source.SetInterruptHandler(c.Index, c.Interrupt)
	}
	return nil
}

// configure sizes the per-level state; caller holds mu
func (c *Core) configure(capability backend.Capability, space seqnum.Space) {
	levels := capability.PriorityLevels
	c.capability = capability
	c.space = space
	c.window = space.Window()
	depth := capability.TaskCapacity
	if c.window < depth {
		depth = c.window
	}
	c.counters = make([]uint32, levels)
	c.buffered = make([]time.Duration, levels)
	c.runQueues = make([]*circularbuffer.Queue, levels)
	for i := range c.runQueues {
		c.runQueues[i] = circularbuffer.New(depth)
	}
	c.freqLevel = len(capability.OperatingPoints) - 1
	c.sched.Store(scheduler.New(levels, c, c.schedConfig, c.Trigger))
}

// Detach clears the backend reference. Operations that capture no backend
// fail with errs.ErrNoDevice.
func (c *Core) Detach() {
	c.hwMu.Lock()
	be := c.backend
	c.backend = nil
	c.hwMu.Unlock()
	if source, ok := be.(backend.InterruptSource); ok {
		source.SetInterruptHandler(c.Index, nil)
	}
}

func (c *Core) backendRef() backend.Backend {
	c.hwMu.RLock()
	defer c.hwMu.RUnlock()
	return c.backend
}

// HasBackend reports whether a backend is attached
func (c *Core) HasBackend() bool {
	return c.backendRef() != nil
}

// Scheduler returns the software priority queue, nil before the first attach
func (c *Core) Scheduler() *scheduler.PrioQueue {
	return c.sched.Load()
}

// Hotplug reports whether work pinned to this core may migrate elsewhere
func (c *Core) Hotplug() bool {
	return c.hotplug
}

// Enabled reports whether the core is powered and accepting work
func (c *Core) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Pending reports whether the core is quiesced
func (c *Core) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// OpenCount returns the number of outstanding Enable calls
func (c *Core) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openCount
}

// Capability returns the capability of the attached backend
func (c *Core) Capability() backend.Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capability
}

// Meter returns the core running ratio meter
func (c *Core) Meter() *stats.Meter {
	return c.meter
}

// Ratio returns the core running ratio
func (c *Core) Ratio() int {
	return c.meter.Ratio(clock.Now())
}

// LastCompletion returns the time of the last reconciled completion
func (c *Core) LastCompletion() time.Time {
	return c.meter.LastDone()
}

// InFlight returns the number of tasks written to hardware and not yet
// reconciled
func (c *Core) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupancy()
}

// reservation holds a run-queue slot for a task whose slices are still being
// written; next is the slice offset the hardware expects
type reservation struct {
	level int
	next  int
}

// occupancy counts run-queue residents and reserved slots; caller holds mu
func (c *Core) occupancy() int {
	ret := len(c.reserved)
	for _, q := range c.runQueues {
		ret += q.Size()
	}
	return ret
}

// levelOccupancy counts the ids of a level in use; caller holds mu
func (c *Core) levelOccupancy(level int) int {
	ret := c.runQueues[level].Size()
	for _, r := range c.reserved {
		if r.level == level {
			ret++
		}
	}
	return ret
}

// FreeSlots returns how many more tasks of a level the hardware would take
func (c *Core) FreeSlots(level int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < 0 || level >= len(c.runQueues) {
		return 0
	}
	free := c.capability.TaskCapacity - c.occupancy()
	if levelFree := c.window - c.levelOccupancy(level); levelFree < free {
		free = levelFree
	}
	if free < 0 {
		return 0
	}
	return free
}

// RunQueue returns the tasks resident in the run-queue of a level, oldest
// first
func (c *Core) RunQueue(level int) []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < 0 || level >= len(c.runQueues) {
		return nil
	}
	return tasksOf(c.runQueues[level])
}

func tasksOf(q *circularbuffer.Queue) []*task.Task {
	values := q.Values()
	ret := make([]*task.Task, 0, len(values))
	for _, v := range values {
		ret = append(ret, v.(*task.Task))
	}
	return ret
}

// Buffered returns the estimated time of the work queued at levels at or
// above floor, in software and in hardware
func (c *Core) Buffered(floor int) time.Duration {
	var ret time.Duration
	if sched := c.Scheduler(); sched != nil {
		ret += sched.Buffered(floor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := floor; i < len(c.buffered); i++ {
		if i >= 0 {
			ret += c.buffered[i]
		}
	}
	return ret
}

// Bind records a session submitting to this core
func (c *Core) Bind(s *session.Session) {
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
}

// Unbind forgets a released session
func (c *Core) Unbind(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Sessions returns the number of bound sessions
func (c *Core) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Glitches returns the number of completion reports dropped as out of order
func (c *Core) Glitches() int64 {
	return c.glitch.Load()
}

// LostReports returns the number of tasks retired without their own report
func (c *Core) LostReports() int64 {
	return c.lost.Load()
}

// DroppedCompletions returns the number of reports lost to a full done ring
func (c *Core) DroppedCompletions() int64 {
	return c.done.Dropped()
}

// Info is a point in time summary of a core
type Info struct {
	Index     int    `yaml:"index"`
	Enabled   bool   `yaml:"enabled"`
	Pending   bool   `yaml:"pending"`
	State     string `yaml:"state"`
	InFlight  int    `yaml:"inFlight"`
	Queued    int    `yaml:"queued"`
	Ratio     int    `yaml:"ratio"`
	Frequency int    `yaml:"frequency"`
	Lost      int64  `yaml:"lost"`
	Glitches  int64  `yaml:"glitches"`
}

// Info returns a summary of the core
func (c *Core) Info() Info {
	queued := 0
	if sched := c.Scheduler(); sched != nil {
		queued = sched.Queued()
	}
	c.mu.Lock()
	ret := Info{
		Index:     c.Index,
		Enabled:   c.enabled,
		Pending:   c.pending,
		State:     c.recovery.state.String(),
		InFlight:  c.occupancy(),
		Queued:    queued,
		Frequency: c.freqLevel,
	}
	c.mu.Unlock()
	ret.Ratio = c.Ratio()
	ret.Lost = c.LostReports()
	ret.Glitches = c.Glitches()
	return ret
}
